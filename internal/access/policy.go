package access

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mrz1836/brcwallet/internal/fileutil"
)

// DailyCounter tracks the satoshis a token's actions sent today.
type DailyCounter struct {
	// Date is the UTC date (YYYY-MM-DD) the counter is for.
	Date     string `json:"date"`
	SpentSat uint64 `json:"spent_sat"`
	// HMAC is keyed with the token.
	HMAC string `json:"hmac"`
}

func todayDate() string {
	return time.Now().UTC().Format(time.DateOnly)
}

// ResolveOriginator returns the originator a request runs as. A token
// bound to an originator only accepts requests that name it or none.
func ResolveOriginator(cred *Credential, requested string) (string, error) {
	switch {
	case cred.Originator == "":
		return requested, nil
	case requested == "" || requested == cred.Originator:
		return cred.Originator, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrOriginatorDenied, requested)
	}
}

// CheckOperation fails when the policy does not allow op.
func CheckOperation(cred *Credential, op string) error {
	if !cred.Allows(op) {
		return fmt.Errorf("%w: %s", ErrOperationDenied, op)
	}
	return nil
}

// CheckAction checks one action's output total against the per-action cap.
func CheckAction(cred *Credential, satoshis uint64) error {
	if limit := cred.Policy.MaxPerActionSat; limit > 0 && satoshis > limit {
		return fmt.Errorf("%w: %d sat exceeds limit of %d sat", ErrPerActionLimit, satoshis, limit)
	}
	return nil
}

// Reserve checks satoshis against the daily cap and records them. Callers
// give the amount back with Refund when the action fails.
func (s *FileStore) Reserve(cred *Credential, token string, satoshis uint64) error {
	if err := CheckAction(cred, satoshis); err != nil {
		return err
	}
	if cred.Policy.MaxDailySat == 0 {
		return nil
	}
	path, err := s.CounterPath(cred.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := loadCounter(path, token)
	total := counter.SpentSat + satoshis
	if total < counter.SpentSat {
		return ErrDailyOverflow
	}
	if total > cred.Policy.MaxDailySat {
		var remaining uint64
		if counter.SpentSat < cred.Policy.MaxDailySat {
			remaining = cred.Policy.MaxDailySat - counter.SpentSat
		}
		return fmt.Errorf("%w: %d sat would exceed limit of %d sat (spent today: %d sat, remaining: %d sat)",
			ErrDailyLimitExceed, satoshis, cred.Policy.MaxDailySat, counter.SpentSat, remaining)
	}
	counter.SpentSat = total
	return saveCounter(path, token, counter)
}

// Refund returns satoshis reserved today.
func (s *FileStore) Refund(cred *Credential, token string, satoshis uint64) error {
	if cred.Policy.MaxDailySat == 0 || satoshis == 0 {
		return nil
	}
	path, err := s.CounterPath(cred.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := loadCounter(path, token)
	if counter.SpentSat == ^uint64(0) {
		return ErrCounterTampered
	}
	counter.SpentSat -= min(satoshis, counter.SpentSat)
	return saveCounter(path, token, counter)
}

// DailySpent returns what a token's actions sent today.
func (s *FileStore) DailySpent(cred *Credential, token string) (uint64, error) {
	path, err := s.CounterPath(cred.ID)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadCounter(path, token).SpentSat, nil
}

// loadCounter reads the counter, resetting it on a new day. A counter that
// exists but cannot be read or fails its HMAC reads as fully spent, so
// deleting or editing it never raises the limit.
func loadCounter(path, token string) *DailyCounter {
	today := todayDate()

	//nolint:gosec // G304: path built from a validated id
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &DailyCounter{Date: today}
		}
		return maxedCounter(today)
	}
	var counter DailyCounter
	if err := json.Unmarshal(data, &counter); err != nil {
		return maxedCounter(today)
	}
	if counter.Date != today {
		return &DailyCounter{Date: today}
	}
	if !verifyCounterHMAC(&counter, token) {
		return maxedCounter(today)
	}
	return &counter
}

func maxedCounter(date string) *DailyCounter {
	return &DailyCounter{Date: date, SpentSat: ^uint64(0)}
}

func saveCounter(path, token string, counter *DailyCounter) error {
	counter.HMAC = computeCounterHMAC(counter, token)
	data, err := json.MarshalIndent(counter, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling counter: %w", err)
	}
	return fileutil.WriteAtomic(path, data, filePermissions)
}

func computeCounterHMAC(counter *DailyCounter, token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	_, _ = fmt.Fprintf(mac, "%s:%d", counter.Date, counter.SpentSat)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyCounterHMAC(counter *DailyCounter, token string) bool {
	return hmac.Equal([]byte(computeCounterHMAC(counter, token)), []byte(counter.HMAC))
}
