package backup

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mediclo/mediclo/internal/errs"
)

// SnapshotVersion is the format version written into every snapshot.
const SnapshotVersion = "1.0"

// DefaultRetentionDays is the sweep window used when none is configured.
const DefaultRetentionDays = 90

// Categories are the tenant collections a snapshot covers. Each lives at
// {category}/{tenantId} in the document store.
var Categories = []string{"patients", "reports", "samples", "templates", "appointments", "doctors", "branding"}

func isCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Kind labels why a backup was taken.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindManual  Kind = "manual"
)

// ParseKind validates a kind label. The empty string is not a kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDaily, KindWeekly, KindMonthly, KindManual:
		return k, nil
	}
	return "", fmt.Errorf("unknown backup kind %q: %w", s, errs.ErrInvalidInput)
}

// Snapshot is a point in time export of a tenant's categories. Categories
// without data are absent from Data.
type Snapshot struct {
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Data      map[string]any `json:"data"`
}

// Entry describes one stored backup.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Date string `json:"date"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

const dateLayout = "2006-01-02-15-04-05"

var fileNamePattern = regexp.MustCompile(`^backup-(daily|weekly|monthly|manual)-(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})\.json$`)

// FileName returns backup-{kind}-{YYYY-MM-DD}-{HH-MM-SS}.json.
func FileName(kind Kind, at time.Time) string {
	return fmt.Sprintf("backup-%s-%s.json", kind, at.UTC().Format(dateLayout))
}

// ParseFileName extracts the kind and date token from a backup file name.
func ParseFileName(name string) (Kind, string, bool) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return Kind(m[1]), m[2], true
}

// TenantPrefix is the object key prefix of a tenant's backups, optionally
// narrowed to one kind.
func TenantPrefix(tenantID string, kind Kind) string {
	if kind == "" {
		return "backups/" + tenantID + "/"
	}
	return "backups/" + tenantID + "/" + string(kind) + "/"
}

// ObjectKey is backups/{tenantId}/{kind}/{file}.
func ObjectKey(tenantID string, kind Kind, at time.Time) string {
	return TenantPrefix(tenantID, kind) + FileName(kind, at)
}
