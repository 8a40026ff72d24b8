package openstack

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

var errNotFound = imgerrors.ErrImageNotFound

// FakeConnection is an in-memory Connection for tests. Every method can
// be overridden with its ...Func field; without an override the fake
// keeps a consistent image and server table.
type FakeConnection struct {
	mu sync.Mutex

	Images      []Image
	Servers     map[string]*Server
	Uploaded    map[string][]byte
	Keypairs    map[string]string
	SecGroups   map[string]bool
	nextID      int
	DeletedImgs []string
	DeletedSrvs []string

	UploadImageFunc          func(ctx context.Context, opts UploadImageOpts) (string, error)
	ListImagesFunc           func(ctx context.Context, prefix string) ([]Image, error)
	DeleteImageFunc          func(ctx context.Context, id string) error
	DownloadImageFunc        func(ctx context.Context, id string, w io.Writer) error
	CreateServerFunc         func(ctx context.Context, opts ServerCreateOpts) (*Server, error)
	GetServerFunc            func(ctx context.Context, id string) (*Server, error)
	DeleteServerFunc         func(ctx context.Context, id string) error
	CreateServerSnapshotFunc func(ctx context.Context, serverID, name string) (string, error)
	EnsureKeypairFunc        func(ctx context.Context, name, publicKey string) error
	EnsureSecurityGroupFunc  func(ctx context.Context, name string) error
}

var _ Connection = (*FakeConnection)(nil)

// NewFakeConnection returns a fake with empty tables.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		Servers:   map[string]*Server{},
		Uploaded:  map[string][]byte{},
		Keypairs:  map[string]string{},
		SecGroups: map[string]bool{},
	}
}

func (f *FakeConnection) newID(kind string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", kind, f.nextID)
}

func (f *FakeConnection) UploadImage(ctx context.Context, opts UploadImageOpts) (string, error) {
	if f.UploadImageFunc != nil {
		return f.UploadImageFunc(ctx, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := io.ReadAll(opts.Source)
	if err != nil {
		return "", err
	}
	id := f.newID("img")
	f.Images = append(f.Images, Image{ID: id, Name: opts.Name, CreatedAt: time.Now()})
	f.Uploaded[id] = data
	return id, nil
}

func (f *FakeConnection) ListImages(ctx context.Context, prefix string) ([]Image, error) {
	if f.ListImagesFunc != nil {
		return f.ListImagesFunc(ctx, prefix)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []Image
	for _, img := range f.Images {
		if strings.HasPrefix(img.Name, prefix) {
			matched = append(matched, img)
		}
	}
	return matched, nil
}

func (f *FakeConnection) DeleteImage(ctx context.Context, id string) error {
	if f.DeleteImageFunc != nil {
		return f.DeleteImageFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, img := range f.Images {
		if img.ID == id {
			f.Images = append(f.Images[:i], f.Images[i+1:]...)
			f.DeletedImgs = append(f.DeletedImgs, id)
			delete(f.Uploaded, id)
			return nil
		}
	}
	return fmt.Errorf("image %s: %w", id, errNotFound)
}

func (f *FakeConnection) DownloadImage(ctx context.Context, id string, w io.Writer) error {
	if f.DownloadImageFunc != nil {
		return f.DownloadImageFunc(ctx, id, w)
	}
	f.mu.Lock()
	data, ok := f.Uploaded[id]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("image %s: %w", id, errNotFound)
	}
	_, err := w.Write(data)
	return err
}

func (f *FakeConnection) CreateServer(ctx context.Context, opts ServerCreateOpts) (*Server, error) {
	if f.CreateServerFunc != nil {
		return f.CreateServerFunc(ctx, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	server := &Server{
		ID:     f.newID("srv"),
		Name:   opts.Name,
		Status: "ACTIVE",
		Addr:   "10.0.0.5",
	}
	f.Servers[server.ID] = server
	return server, nil
}

func (f *FakeConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	if f.GetServerFunc != nil {
		return f.GetServerFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	server, ok := f.Servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, errNotFound)
	}
	copied := *server
	return &copied, nil
}

func (f *FakeConnection) DeleteServer(ctx context.Context, id string) error {
	if f.DeleteServerFunc != nil {
		return f.DeleteServerFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.Servers[id]; !ok {
		return fmt.Errorf("server %s: %w", id, errNotFound)
	}
	delete(f.Servers, id)
	f.DeletedSrvs = append(f.DeletedSrvs, id)
	return nil
}

func (f *FakeConnection) CreateServerSnapshot(ctx context.Context, serverID, name string) (string, error) {
	if f.CreateServerSnapshotFunc != nil {
		return f.CreateServerSnapshotFunc(ctx, serverID, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.Servers[serverID]; !ok {
		return "", fmt.Errorf("server %s: %w", serverID, errNotFound)
	}
	id := f.newID("img")
	f.Images = append(f.Images, Image{ID: id, Name: name, CreatedAt: time.Now()})
	f.Uploaded[id] = []byte("snapshot of " + serverID)
	return id, nil
}

func (f *FakeConnection) EnsureKeypair(ctx context.Context, name, publicKey string) error {
	if f.EnsureKeypairFunc != nil {
		return f.EnsureKeypairFunc(ctx, name, publicKey)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keypairs[name] = publicKey
	return nil
}

func (f *FakeConnection) EnsureSecurityGroup(ctx context.Context, name string) error {
	if f.EnsureSecurityGroupFunc != nil {
		return f.EnsureSecurityGroupFunc(ctx, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SecGroups[name] = true
	return nil
}
