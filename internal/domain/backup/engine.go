// Package backup exports a tenant's record categories into one JSON
// snapshot, keeps snapshots in object storage, sweeps old ones and restores
// categories from a snapshot.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/docstore"
	"github.com/mediclo/mediclo/internal/platform/notification"
	"github.com/mediclo/mediclo/internal/platform/objectstore"
)

// maxKeyShift bounds how many seconds Upload moves forward to avoid
// overwriting a backup taken in the same second.
const maxKeyShift = 60

// MaxSnapshotBytes caps the size of a snapshot read back for restore.
const MaxSnapshotBytes = 64 << 20

type Engine struct {
	docs    docstore.Store
	objects objectstore.Store
	client  *resty.Client
	events  notification.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEngine(docs docstore.Store, objects objectstore.Store, events notification.Publisher, logger zerolog.Logger) *Engine {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetResponseBodyLimit(MaxSnapshotBytes).
		SetHeader("Accept", "application/json")
	return &Engine{
		docs:    docs,
		objects: objects,
		client:  client,
		events:  events,
		logger:  logger.With().Str("component", "backup").Logger(),
		now:     time.Now,
	}
}

// Create reads every category of the tenant into a snapshot. Missing or
// empty categories are omitted. Any read failure fails the whole snapshot:
// no partial snapshot is ever returned.
func (e *Engine) Create(ctx context.Context, tenantID string) (*Snapshot, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required: %w", errs.ErrInvalidInput)
	}
	snap := &Snapshot{
		Timestamp: e.now().UTC().Format(time.RFC3339),
		Version:   SnapshotVersion,
		Data:      map[string]any{},
	}
	for _, cat := range Categories {
		v, err := e.docs.Get(ctx, docstore.Join(cat, tenantID))
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Error().Err(err).Str("tenant_id", tenantID).Str("category", cat).Msg("backup read failed")
			return nil, fmt.Errorf("read %s: %w", cat, errs.ErrStoreUnavailable)
		}
		if m, ok := v.(map[string]any); ok && len(m) == 0 {
			continue
		}
		snap.Data[cat] = v
	}
	return snap, nil
}

// Upload writes the snapshot as indented JSON under
// backups/{tenantId}/{kind}/ and returns its entry, including a download URL.
func (e *Engine) Upload(ctx context.Context, tenantID string, snap *Snapshot, kind Kind) (*Entry, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required: %w", errs.ErrInvalidInput)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	key, at, err := e.freeKey(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}
	if err := e.objects.Put(ctx, key, "application/json", body); err != nil {
		e.logger.Error().Err(err).Str("tenant_id", tenantID).Str("key", key).Msg("backup upload failed")
		return nil, storageFailure("upload backup", err)
	}
	url, err := e.objects.URL(ctx, key)
	if err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("backup url failed")
		return nil, storageFailure("backup url", err)
	}
	return &Entry{
		Name: path.Base(key),
		Path: key,
		Kind: kind,
		Date: at.Format(dateLayout),
		URL:  url,
		Size: int64(len(body)),
	}, nil
}

// freeKey picks the object key for a backup taken now, moving forward one
// second at a time while a backup with that name already exists.
func (e *Engine) freeKey(ctx context.Context, tenantID string, kind Kind) (string, time.Time, error) {
	at := e.now().UTC().Truncate(time.Second)
	existing, err := e.objects.List(ctx, TenantPrefix(tenantID, kind))
	if err != nil {
		e.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("backup list failed")
		return "", time.Time{}, storageFailure("list backups", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, o := range existing {
		taken[o.Key] = true
	}
	for i := 0; i < maxKeyShift; i++ {
		key := ObjectKey(tenantID, kind, at)
		if !taken[key] {
			return key, at, nil
		}
		at = at.Add(time.Second)
	}
	return "", time.Time{}, fmt.Errorf("no free backup name near %s: %w", at.Format(dateLayout), errs.ErrConflict)
}

// List returns the tenant's backups, optionally of one kind, newest first.
// Objects whose name does not follow the backup naming scheme are skipped.
func (e *Engine) List(ctx context.Context, tenantID string, kind Kind) ([]Entry, error) {
	out := []Entry{}
	objs, err := e.objects.List(ctx, TenantPrefix(tenantID, kind))
	if err != nil {
		e.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("backup list failed")
		return out, storageFailure("list backups", err)
	}
	for _, o := range objs {
		k, date, ok := ParseFileName(path.Base(o.Key))
		if !ok {
			continue
		}
		url, err := e.objects.URL(ctx, o.Key)
		if err != nil {
			e.logger.Warn().Err(err).Str("key", o.Key).Msg("backup url failed")
		}
		out = append(out, Entry{Name: path.Base(o.Key), Path: o.Key, Kind: k, Date: date, URL: url, Size: o.Size})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// DeleteOld removes backups whose date is strictly before today minus
// retentionDays, at day granularity. It keeps going past single delete
// failures and returns how many backups were removed.
func (e *Engine) DeleteOld(ctx context.Context, tenantID string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive: %w", errs.ErrInvalidInput)
	}
	entries, err := e.List(ctx, tenantID, "")
	if err != nil {
		return 0, err
	}
	cutoff := e.now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	deleted := 0
	for _, en := range entries {
		if en.Date[:len("2006-01-02")] >= cutoff {
			continue
		}
		if err := e.objects.Delete(ctx, en.Path); err != nil {
			e.logger.Error().Err(err).Str("key", en.Path).Msg("backup delete failed")
			continue
		}
		deleted++
	}

	e.logger.Info().Str("tenant_id", tenantID).Int("deleted", deleted).Str("cutoff", cutoff).Msg("backup sweep finished")
	if deleted > 0 {
		notification.Emit(ctx, e.events, e.logger, notification.Event{
			Type:     notification.BackupsSwept,
			TenantID: tenantID,
			Data:     map[string]any{"deleted": deleted, "retentionDays": retentionDays},
		})
	}
	return deleted, nil
}

// Download fetches and parses a snapshot from a download URL. Only URLs
// issued by the engine's object store for one of the tenant's backups are
// fetched; redirects are not followed and the body is capped at
// MaxSnapshotBytes.
func (e *Engine) Download(ctx context.Context, tenantID, rawURL string) (*Snapshot, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("backup url is required: %w", errs.ErrInvalidInput)
	}
	key, ok := e.objects.KeyFromURL(rawURL)
	if !ok {
		e.logger.Warn().Str("tenant_id", tenantID).Msg("backup url not issued by backup storage")
		return nil, fmt.Errorf("backup url is not a backup storage url: %w", errs.ErrInvalidInput)
	}
	if err := checkOwner(tenantID, key); err != nil {
		e.logger.Warn().Str("tenant_id", tenantID).Str("key", key).Msg("backup url of another tenant")
		return nil, err
	}

	resp, err := e.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("backup download failed")
		if errors.Is(err, resty.ErrResponseBodyTooLarge) {
			return nil, fmt.Errorf("backup exceeds %d bytes: %w", MaxSnapshotBytes, errs.ErrInvalidInput)
		}
		return nil, storageFailure("download backup", err)
	}
	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		e.logger.Error().Int("status", resp.StatusCode()).Str("key", key).Msg("backup download failed")
		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("backup: %w", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("download backup: status %d: %w", resp.StatusCode(), errs.ErrStorageUnavailable)
	}
	return e.parse(resp.Body())
}

// Load reads a snapshot straight from object storage. The key must belong
// to the tenant.
func (e *Engine) Load(ctx context.Context, tenantID, key string) (*Snapshot, error) {
	if err := checkOwner(tenantID, key); err != nil {
		return nil, err
	}
	obj, err := e.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		e.logger.Error().Err(err).Str("key", key).Msg("backup load failed")
		return nil, storageFailure("load backup", err)
	}
	if len(obj.Data) > MaxSnapshotBytes {
		return nil, fmt.Errorf("backup exceeds %d bytes: %w", MaxSnapshotBytes, errs.ErrInvalidInput)
	}
	return e.parse(obj.Data)
}

// checkOwner reports another tenant's key, or one outside the backup tree,
// as not found.
func checkOwner(tenantID, key string) error {
	if strings.TrimSpace(tenantID) == "" || !strings.HasPrefix(key, TenantPrefix(tenantID, "")) ||
		path.Clean(key) != key {
		return fmt.Errorf("backup %q: %w", key, errs.ErrNotFound)
	}
	return nil
}

func (e *Engine) parse(body []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		e.logger.Error().Err(err).Msg("backup parse failed")
		return nil, fmt.Errorf("parse backup: %v: %w", err, errs.ErrInvalidInput)
	}
	return &snap, nil
}

// Restore replaces each category present in the snapshot with its content.
// The snapshot is checked in full before anything is written.
func (e *Engine) Restore(ctx context.Context, tenantID string, snap *Snapshot) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("tenant id is required: %w", errs.ErrInvalidInput)
	}
	if snap == nil || snap.Data == nil {
		return fmt.Errorf("snapshot has no data: %w", errs.ErrInvalidInput)
	}
	var unknown []string
	for k := range snap.Data {
		if !isCategory(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown categories %s: %w", strings.Join(unknown, ", "), errs.ErrInvalidInput)
	}

	var restored []string
	for _, cat := range Categories {
		v, ok := snap.Data[cat]
		if !ok {
			continue
		}
		if err := e.docs.Set(ctx, docstore.Join(cat, tenantID), v); err != nil {
			e.logger.Error().Err(err).Str("tenant_id", tenantID).Str("category", cat).Strs("restored", restored).Msg("restore failed")
			return fmt.Errorf("restore %s: %w", cat, err)
		}
		restored = append(restored, cat)
	}

	e.logger.Warn().Str("tenant_id", tenantID).Strs("categories", restored).Str("snapshot", snap.Timestamp).Msg("tenant data restored")
	notification.Emit(ctx, e.events, e.logger, notification.Event{
		Type:     notification.BackupRestored,
		TenantID: tenantID,
		Subject:  snap.Timestamp,
		Data:     map[string]any{"categories": restored},
	})
	return nil
}

// Run takes a snapshot of the tenant and uploads it.
func (e *Engine) Run(ctx context.Context, tenantID string, kind Kind) (*Entry, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	snap, err := e.Create(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entry, err := e.Upload(ctx, tenantID, snap, kind)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("tenant_id", tenantID).Str("kind", string(kind)).Str("key", entry.Path).Msg("backup created")
	notification.Emit(ctx, e.events, e.logger, notification.Event{
		Type:     notification.BackupCreated,
		TenantID: tenantID,
		Subject:  entry.Name,
		Data:     map[string]any{"kind": string(kind), "size": entry.Size},
	})
	return entry, nil
}

// SafeRestore takes a manual backup of the current state and then restores
// snap. The safety backup's entry is returned even when the restore fails.
func (e *Engine) SafeRestore(ctx context.Context, tenantID string, snap *Snapshot) (*Entry, error) {
	if snap == nil || snap.Data == nil {
		return nil, fmt.Errorf("snapshot has no data: %w", errs.ErrInvalidInput)
	}
	safety, err := e.Run(ctx, tenantID, KindManual)
	if err != nil {
		return nil, fmt.Errorf("safety backup: %w", err)
	}
	return safety, e.Restore(ctx, tenantID, snap)
}

func storageFailure(op string, err error) error {
	if errors.Is(err, errs.ErrStorageUnavailable) || errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, errs.ErrStorageUnavailable)
}
