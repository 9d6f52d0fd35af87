package credentials

import "context"

// Static 固定凭据（单次 CLI 运行使用）
type Static struct {
	Username string
	Password string
}

// Credentials 返回固定凭据
func (s Static) Credentials(context.Context, string) (string, string, error) {
	if s.Username == "" {
		return "", "", ErrNoCredentials
	}
	return s.Username, s.Password, nil
}
