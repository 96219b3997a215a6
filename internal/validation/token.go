package validation

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// tokenSafetyMargin — токен считается истёкшим раньше срока из claim exp.
	tokenSafetyMargin = 60 * time.Second
	// defaultTokenTTL — срок жизни токена без читаемого claim exp.
	defaultTokenTTL = 24 * time.Hour
)

// tokenCache — кэш bearer-токена.
// Чтение под RLock, обновление под Lock с повторной проверкой:
// параллельные промахи кэша выполняют один запрос токена.
type tokenCache struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// get возвращает токен, если он ещё действителен на момент now.
func (c *tokenCache) get(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(now)
}

// lookup — проверка без захвата блокировки.
func (c *tokenCache) lookup(now time.Time) (string, bool) {
	if c.token != "" && now.Before(c.expiry) {
		return c.token, true
	}
	return "", false
}

// refresh возвращает действующий токен или получает новый через fetch.
// fetch вызывается под эксклюзивной блокировкой.
func (c *tokenCache) refresh(now func() time.Time, fetch func() (string, error)) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token, ok := c.lookup(now()); ok {
		return token, false, nil
	}

	token, err := fetch()
	if err != nil {
		return "", false, err
	}

	c.token = token
	c.expiry = tokenExpiry(token, now())
	return token, true, nil
}

// invalidate сбрасывает токен, отвергнутый сервисом.
func (c *tokenCache) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expiry = time.Time{}
	}
}

// expiresAt возвращает срок действия закэшированного токена.
func (c *tokenCache) expiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

// tokenExpiry вычисляет срок действия токена по claim exp без проверки подписи.
// Если claim отсутствует или токен не разбирается — now + 24h.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return now.Add(defaultTokenTTL)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(defaultTokenTTL)
	}

	return exp.Add(-tokenSafetyMargin)
}

// normalizeToken убирает пробелы и кавычки вокруг токена в теле ответа.
func normalizeToken(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"'`)
}
