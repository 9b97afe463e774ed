package auth

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateIdentity = errors.New("email already registered")
	ErrWeakCredential    = errors.New("password rejected by provider policy")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrRateLimited       = errors.New("too many requests")
	ErrInvalidEmail      = errors.New("malformed email address")
	ErrNetwork           = errors.New("identity provider unreachable")

	ErrProfileNotFound = errors.New("no profile for authenticated identity")
	ErrAccessDenied    = errors.New("profile has no portal access")
	ErrNotSignedIn     = errors.New("not signed in")
)

// ProviderError is an identity provider failure that maps to no known
// category.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error %d (%s): %s", e.Status, e.Code, e.Message)
}

// RecoverySwitchToLogin tells the client to offer the login form, pre-filled.
const RecoverySwitchToLogin = "switch_to_login"

var userMessages = []struct {
	err error
	msg string
}{
	{ErrDuplicateIdentity, "このメールアドレスは既に登録されています。ログインしてください。"},
	{ErrInvalidCredential, "メールアドレスまたはパスワードが正しくありません。"},
	{ErrWeakCredential, "パスワードは6文字以上で設定してください。"},
	{ErrRateLimited, "試行回数が多すぎます。しばらく時間をおいてから再度お試しください。"},
	{ErrNetwork, "ネットワークエラーが発生しました。通信環境を確認してください。"},
	{ErrInvalidEmail, "メールアドレスの形式が正しくありません。"},
	{ErrProfileNotFound, "ユーザー情報が見つかりません。管理者にお問い合わせください。"},
	{ErrAccessDenied, "このアカウントにはポータルへのアクセス権限がありません。"},
	{ErrNotSignedIn, "ログインしてください。"},
}

// UserMessage returns the message shown to the user for an auth failure.
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "認証エラーが発生しました。時間をおいて再度お試しください。"
}

// Recovery names the one-click recovery action offered for err, if any.
func Recovery(err error) string {
	if errors.Is(err, ErrDuplicateIdentity) {
		return RecoverySwitchToLogin
	}
	return ""
}
