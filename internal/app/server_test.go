package app

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intrnl "lanchat/internal"
	"lanchat/internal/logging"
)

func testServerConfig(t *testing.T) ServerConfig {
	t.Helper()
	var cfg ServerConfig
	cfg.LoadDefaults()
	cfg.Addr = "127.0.0.1:0"
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestRunServer_ServesRoutesAndStops(t *testing.T) {
	cfg := testServerConfig(t)
	handle, err := RunServer(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	base := "http://" + handle.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, intrnl.Version, health["version"])

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", "hello world.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hi there"))
	require.NoError(t, form.Close())

	resp, err = http.Post(base+"/upload", form.FormDataContentType(), body)
	require.NoError(t, err)
	var uploaded intrnl.FileUpload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + uploaded.DownloadPath)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi there", string(data))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="hello world.txt"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/upload")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, err = os.Stat(filepath.Join(cfg.DataDir, "files", uploaded.StoredFileName))
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handle.Stop(ctx))
	require.NoError(t, handle.Wait())
}

func TestRunServer_PersistsHistoryOnShutdown(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testServerConfig(t)
			cfg.HistoryBackend = backend

			ctx, cancel := context.WithCancel(context.Background())
			handle, err := RunServer(ctx, cfg, logging.Discard())
			require.NoError(t, err)
			_, ok := handle.Engine().PostChat(ctx, "c1", "remember me")
			require.True(t, ok)
			cancel()
			require.NoError(t, handle.Wait())

			handle, err = RunServer(context.Background(), cfg, logging.Discard())
			require.NoError(t, err)
			messages := handle.Engine().Messages()
			require.Len(t, messages, 1)
			assert.Equal(t, "remember me", messages[0].Body)
			require.NoError(t, handle.Stop(context.Background()))
			require.NoError(t, handle.Wait())
		})
	}
}

func TestRunServer_RejectsInvalidConfig(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.BlobBackend = "tape"
	_, err := RunServer(context.Background(), cfg, nil)
	assert.Error(t, err)
}

// writeSelfSignedCert writes a PEM pair valid for 127.0.0.1 and returns a
// pool that trusts it.
func writeSelfSignedCert(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "lanchat test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
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

func TestRunServer_ServesHTTPS(t *testing.T) {
	cfg := testServerConfig(t)
	certFile, keyFile, pool := writeSelfSignedCert(t)
	cfg.TLSCertFile = certFile
	cfg.TLSKeyFile = keyFile

	handle, err := RunServer(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, handle.Stop(context.Background()))
		require.NoError(t, handle.Wait())
	}()
	assert.True(t, handle.TLS())

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}
	resp, err := client.Get("https://" + handle.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)

	plain, err := http.Get("http://" + handle.Addr() + "/healthz")
	if err == nil {
		plain.Body.Close()
		assert.Equal(t, http.StatusBadRequest, plain.StatusCode)
	}
}

func TestRunServer_MissingCertificateFallsBackToHTTP(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.TLSCertFile = filepath.Join(cfg.DataDir, "cert.pem")
	cfg.TLSKeyFile = filepath.Join(cfg.DataDir, "key.pem")

	handle, err := RunServer(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, handle.Stop(context.Background()))
		require.NoError(t, handle.Wait())
	}()
	assert.False(t, handle.TLS())

	resp, err := http.Get("http://" + handle.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
