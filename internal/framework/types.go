package framework

import "time"

// Message 消息结构（框架内部流转）
type Message struct {
	ID    string // 消息 ID
	Queue string // 队列名称
	Data  []byte // 原始 Job 数据

	release func() // 释放在途互斥键
}

// done 处理结束（或放弃转发）时调用，可重复调用
func (m *Message) done() {
	if m.release != nil {
		m.release()
		m.release = nil
	}
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	QueueName    string        // 队列名称
	Concurrency  int           // 并发拉取数
	Timeout      time.Duration // 拉取超时
	TTR          time.Duration // Time-To-Run，超时未 ACK 的消息会被重新投递
	Rate         time.Duration // 速率限制（拉取间隔）
	ErrorBackoff time.Duration // 错误退避时间
	KeyOf        KeyFunc       // 同一键的消息串行处理；为空不做限制
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Concurrency int           // 并发处理数
	BufferSize  int           // inputChan 缓冲区大小
	Timeout     time.Duration // 单个消息处理超时
}
