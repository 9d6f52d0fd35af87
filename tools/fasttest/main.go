package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"hnsync/internal/bootstrap"
	"hnsync/internal/business"
	"hnsync/internal/credentials"
	"hnsync/pkg/config"
	"hnsync/pkg/kv"
	"hnsync/pkg/lmstfy"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

var (
	configPath   = flag.String("config", "./config/worker.yaml", "配置文件路径")
	testcasePath = flag.String("testcase", "./tools/fasttest/testcase/sync.json", "测试用例路径")
	skipQueue    = flag.Bool("skip-queue", false, "不连接 lmstfy，回调与续跑只打印")
	memoryStore  = flag.Bool("memory", false, "使用内存存储（不连接 Redis / MySQL）")
)

// TestCase 测试用例结构
type TestCase struct {
	Username string               `json:"username"`
	Password string               `json:"password"`
	Payload  business.SyncPayload `json:"payload"`
}

// printPublisher 只打印不投递
type printPublisher struct{}

func (printPublisher) Publish(queue string, data []byte, ttl, delay uint32) error {
	fmt.Printf("  -> publish queue=%s delay=%ds %s\n", queue, delay, data)
	return nil
}

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FastTest - HNSYNC 同步快速测试工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *memoryStore {
		cfg.Store.Driver = "memory"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ Config validation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Config loaded: %s, store=%s\n", cfg.App.Name, cfg.Store.Driver)

	// 2. 加载测试用例
	testCases, err := loadTestCases(*testcasePath)
	if err != nil {
		fmt.Printf("❌ Failed to load test cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Loaded %d test cases from %s\n", len(testCases), *testcasePath)

	log, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("❌ Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. 初始化依赖（根据 skip-queue 参数决定）
	var publisher lmstfyx.Publisher = printPublisher{}
	if *skipQueue {
		fmt.Println("⚠️  Skip-queue mode: callbacks are printed, not published")
	} else {
		client, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
		if err != nil {
			fmt.Printf("❌ Failed to create lmstfy client: %v\n", err)
			os.Exit(1)
		}
		publisher = client
		fmt.Println("✅ Lmstfy client initialized")
	}

	store, closeStore, err := kv.NewStore(cfg)
	if err != nil {
		fmt.Printf("❌ Failed to create store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	// 4. 执行测试用例
	fmt.Println("\n========================================")
	fmt.Println("  Running Test Cases")
	fmt.Println("========================================")

	successCount := 0
	failureCount := 0

	for i, tc := range testCases {
		fmt.Printf("\n[Test %d/%d] UserID=%s\n", i+1, len(testCases), tc.Payload.UserID)
		fmt.Println("----------------------------------------")

		startTime := time.Now()
		err := runTestCase(cfg, store, publisher, log, tc)
		duration := time.Since(startTime)

		if err != nil {
			fmt.Printf("❌ FAILED: %v\n", err)
			failureCount++
		} else {
			fmt.Printf("✅ PASSED\n")
			successCount++
		}
		fmt.Printf("⏱️  Duration: %v\n", duration)
	}

	// 5. 输出测试汇总
	fmt.Println("\n========================================")
	fmt.Println("  Test Summary")
	fmt.Println("========================================")
	fmt.Printf("Total: %d\n", len(testCases))
	fmt.Printf("Passed: %d ✅\n", successCount)
	fmt.Printf("Failed: %d ❌\n", failureCount)

	if failureCount > 0 {
		os.Exit(1)
	}
}

// loadTestCases 从 JSON 文件加载测试用例
func loadTestCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read testcase file: %w", err)
	}

	var testCases []TestCase
	if err := json.Unmarshal(data, &testCases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal testcase: %w", err)
	}

	return testCases, nil
}

// runTestCase 以用例中的凭据执行一次完整同步（同步 + 回调 + 续跑）
func runTestCase(cfg *config.Config, store kv.Store, publisher lmstfyx.Publisher, log logger.Logger, tc TestCase) error {
	ctx := logger.WithTraceID(context.Background(), fmt.Sprintf("fasttest-%d", time.Now().UnixNano()))

	engine, err := bootstrap.NewEngine(cfg, log, bootstrap.Options{
		Store:       store,
		Credentials: credentials.Static{Username: tc.Username, Password: tc.Password},
	})
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}

	queue := cfg.Lmstfy.Queue
	callbackQueue := queue + "_callback"
	if len(cfg.Workers) > 0 {
		queue, callbackQueue = cfg.Workers[0].QueueName, cfg.Workers[0].CallbackQueue
	}
	service := business.NewSyncService(engine.Service, publisher, nil, business.SyncServiceOptions{
		CallbackQueue:     callbackQueue,
		ContinuationQueue: queue,
		ContinuationDelay: cfg.Sync.ContinuationDelay,
		MaxContinuations:  cfg.Sync.MaxContinuations,
	}, log)

	callback, err := service.ExecuteSync(ctx, &business.SyncInput{
		RequestID: logger.TraceID(ctx),
		Payload:   tc.Payload,
	})
	if callback != nil {
		fmt.Printf("  Status=%s, Orders=%d, Trips=%d, Conflicts=%d, Requests=%d\n",
			callback.Status, callback.Orders, callback.TripsWritten, len(callback.Conflicts), callback.Requests)
		if callback.StoppedAt != "" {
			fmt.Printf("  Stopped at %s (continued=%v)\n", callback.StoppedAt, callback.Continued)
		}
	}
	return err
}
