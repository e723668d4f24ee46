package listener

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/client/client"
	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/config"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/services"
	"github.com/Fides-Storage/Server-sub000/internal/server/session"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

type stack struct {
	locker *userlock.DiskLocker
	users  *services.UserService
	files  *services.FileService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.NewDiskStore(root, 0)
	require.NoError(t, err)
	l, err := ledger.NewDiskRepository(root)
	require.NoError(t, err)
	locker, err := userlock.NewDiskLocker(root)
	require.NoError(t, err)
	return &stack{
		locker: locker,
		users:  services.NewUserService(l, locker, blobs, &config.Config{DefaultQuota: 1 << 20}),
		files:  services.NewFileService(l, blobs, nopLogger{}),
	}
}

// start serves on a loopback port and returns its address, a cancel func and
// Serve's result.
func start(t *testing.T, l *Listener) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, lis) }()
	t.Cleanup(cancel)
	return lis.Addr().String(), cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
		return nil
	}
}

func TestListener_ServesSessions(t *testing.T) {
	st := newStack(t)
	var serving atomic.Bool
	l := New("", nil, st.users, st.files, nopLogger{}, session.Options{})
	l.OnServing(serving.Store)
	addr, cancel, done := start(t, l)

	ctx := context.Background()
	c, err := client.Dial(ctx, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.CreateUser(ctx, "alice", "cred"))
	require.NoError(t, c.Login(ctx, "alice", "cred"))
	loc, err := c.UploadFile(ctx, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, c.GetFile(ctx, loc, &out))
	assert.Equal(t, "hello", out.String())
	assert.True(t, serving.Load())

	// a second connection for the same account is refused while the first
	// holds the lock
	c2, err := client.Dial(ctx, addr, nil)
	require.NoError(t, err)
	defer c2.Close()
	assert.ErrorIs(t, c2.Login(ctx, "alice", "cred"), client.ErrBusy)

	cancel()
	require.NoError(t, wait(t, done))
	assert.False(t, serving.Load())

	locked, err := st.locker.IsLocked(ctx, services.AccountID("alice"))
	require.NoError(t, err)
	assert.False(t, locked, "shutdown releases account locks")
}

func TestListener_DisconnectReleasesLock(t *testing.T) {
	st := newStack(t)
	l := New("", nil, st.users, st.files, nopLogger{}, session.Options{})
	addr, _, _ := start(t, l)

	ctx := context.Background()
	c, err := client.Dial(ctx, addr, nil)
	require.NoError(t, err)
	require.NoError(t, c.CreateUser(ctx, "bob", "cred"))
	require.NoError(t, c.Login(ctx, "bob", "cred"))
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		locked, err := st.locker.IsLocked(ctx, services.AccountID("bob"))
		return err == nil && !locked
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListener_TLS(t *testing.T) {
	certFile, keyFile, pool := writeSelfSigned(t)
	cfg, err := LoadTLSConfig(certFile, keyFile)
	require.NoError(t, err)

	st := newStack(t)
	l := New("", cfg, st.users, st.files, nopLogger{}, session.Options{})
	addr, _, _ := start(t, l)

	ctx := context.Background()
	c, err := client.Dial(ctx, addr, &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.CreateUser(ctx, "carol", "cred"))

	_, err = client.Dial(ctx, addr, &tls.Config{RootCAs: x509.NewCertPool(), ServerName: "127.0.0.1"})
	assert.ErrorIs(t, err, client.ErrUnavailable)
}

func TestLoadTLSConfig_MissingFiles(t *testing.T) {
	_, err := LoadTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	st := newStack(t)
	l := New("127.0.0.1:99999", nil, st.users, st.files, nopLogger{}, session.Options{})
	assert.Error(t, l.Run(context.Background()))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
}

func writeSelfSigned(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fides-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return certFile, keyFile, pool
}
