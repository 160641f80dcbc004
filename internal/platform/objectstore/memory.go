package objectstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type storedObject struct {
	info ObjectInfo
	data []byte
}

// MemoryStore is a thread-safe, in-memory Store. URLs point at the Handler
// mounted under baseURL.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
	baseURL string
	now     func() time.Time
}

// NewMemoryStore returns a ready-to-use MemoryStore whose URLs are rooted at baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*storedObject),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetBaseURL changes the URL root, e.g. once a test server has started.
func (s *MemoryStore) SetBaseURL(baseURL string) {
	s.mu.Lock()
	s.baseURL = strings.TrimRight(baseURL, "/")
	s.mu.Unlock()
}

// Put stores a copy of data and computes its SHA-256 hash.
func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	h := sha256.Sum256(data)
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &storedObject{
		info: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			Hash:         fmt.Sprintf("%x", h),
			LastModified: s.now(),
		},
		data: buf,
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &Object{ObjectInfo: obj.info, Data: data}, nil
}

// List returns matching objects ordered by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []ObjectInfo{}
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) URL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/objects/" + strings.Join(segs, "/"), nil
}

func (s *MemoryStore) KeyFromURL(rawURL string) (string, bool) {
	s.mu.RLock()
	base := s.baseURL
	s.mu.RUnlock()

	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != b.Scheme || u.Host != b.Host || u.User != nil {
		return "", false
	}
	return keyAfter(u, strings.TrimRight(b.Path, "/")+"/objects/")
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, key)
	return nil
}
