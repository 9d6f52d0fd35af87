package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"hnsync/internal/store"
	"hnsync/pkg/kv"
)

// ErrNoCredentials 用户未保存门户凭据
var ErrNoCredentials = errors.New("portal credentials not found")

// Source 门户凭据来源
type Source interface {
	Credentials(ctx context.Context, userID string) (username, password string, err error)
}

// sealedRecord 存储格式
type sealedRecord struct {
	Nonce string `json:"nonce"`
	Box   string `json:"box"`
}

type plainCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SealedStore 使用 secretbox 加密保存凭据
type SealedStore struct {
	store kv.Store
	key   [32]byte
}

// NewSealedStore 创建 SealedStore；keyB64 为 base64 编码的 32 字节密钥
func NewSealedStore(kvStore kv.Store, keyB64 string) (*SealedStore, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(raw))
	}

	s := &SealedStore{store: kvStore}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey 生成新的 base64 密钥
func GenerateKey() (string, error) {
	var k [32]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

// Save 加密保存
func (s *SealedStore) Save(ctx context.Context, userID, username, password string) error {
	plain, err := json.Marshal(plainCredentials{Username: username, Password: password})
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nil, plain, &nonce, &s.key)

	raw, err := json.Marshal(sealedRecord{
		Nonce: base64.StdEncoding.EncodeToString(nonce[:]),
		Box:   base64.StdEncoding.EncodeToString(box),
	})
	if err != nil {
		return err
	}
	return s.store.Put(ctx, store.CredentialsKey(userID), raw, 0)
}

// Credentials 解密读取
func (s *SealedStore) Credentials(ctx context.Context, userID string) (string, string, error) {
	raw, err := s.store.Get(ctx, store.CredentialsKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", "", ErrNoCredentials
	}
	if err != nil {
		return "", "", fmt.Errorf("load credentials: %w", err)
	}

	var rec sealedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", "", fmt.Errorf("corrupt credentials record: %w", err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return "", "", fmt.Errorf("corrupt credentials nonce")
	}
	box, err := base64.StdEncoding.DecodeString(rec.Box)
	if err != nil {
		return "", "", fmt.Errorf("corrupt credentials box: %w", err)
	}

	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	plain, ok := secretbox.Open(nil, box, &nonce, &s.key)
	if !ok {
		return "", "", fmt.Errorf("credentials decryption failed")
	}

	var c plainCredentials
	if err := json.Unmarshal(plain, &c); err != nil {
		return "", "", fmt.Errorf("corrupt credentials payload: %w", err)
	}
	if c.Username == "" {
		return "", "", ErrNoCredentials
	}
	return c.Username, c.Password, nil
}

// Delete 删除凭据
func (s *SealedStore) Delete(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, store.CredentialsKey(userID))
}
