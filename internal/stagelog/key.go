package stagelog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kpiledger/pkg/contracts/domain"
)

// KeySeparator joins the parts of a StageKey. It is not allowed in job IDs
// or well names, which keeps keys injective.
const KeySeparator = "|"

// BuildKey composes the stage key for (jobID, well, stage). It never fails.
func BuildKey(jobID, well string, stage int) domain.StageKey {
	var b strings.Builder
	b.Grow(len(jobID) + len(well) + 12)
	b.WriteString(jobID)
	b.WriteString(KeySeparator)
	b.WriteString(well)
	b.WriteString(KeySeparator)
	b.WriteString(strconv.Itoa(stage))
	return domain.StageKey(b.String())
}

// ParseKey splits a key built by BuildKey.
func ParseKey(key domain.StageKey) (jobID, well string, stage int, ok bool) {
	parts := strings.Split(string(key), KeySeparator)
	if len(parts) != 3 {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], n, true
}

// ErrKeyMismatch is returned by CheckKey.
var ErrKeyMismatch = errors.New("stage key does not match record")

// CheckKey verifies that key is what BuildKey yields for rec within jobID.
// Stores call it before writing so a malformed patch never lands.
func CheckKey(jobID string, key domain.StageKey, rec domain.StageRecord) error {
	keyJob, well, stage, ok := ParseKey(key)
	if !ok || keyJob != jobID || well != rec.Well || stage != rec.Stage {
		return fmt.Errorf("%w: %q for job %s, well %s, stage %d", ErrKeyMismatch, key, jobID, rec.Well, rec.Stage)
	}
	return nil
}

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("invalid name")

// ValidateName checks a job ID or well name before it can take part in a key.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidName)
	}
	if strings.Contains(name, KeySeparator) {
		return fmt.Errorf("%w: %q must not contain %q", ErrInvalidName, name, KeySeparator)
	}
	return nil
}
