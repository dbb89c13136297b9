package certgen_test

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/crypto/certgen"
)

func parseCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestIssueSharesCA(t *testing.T) {
	dir := t.TempDir()

	a, err := certgen.Issue(dir, "node-a", nil)
	require.NoError(t, err)
	caBefore, err := os.ReadFile(a.CACert)
	require.NoError(t, err)

	b, err := certgen.Issue(dir, "node-b", &certgen.Options{ExtraDNS: []string{"b.example"}})
	require.NoError(t, err)
	caAfter, err := os.ReadFile(b.CACert)
	require.NoError(t, err)
	assert.Equal(t, caBefore, caAfter, "second node must reuse the CA")

	pool := x509.NewCertPool()
	pool.AddCert(parseCert(t, b.CACert))
	for _, p := range []certgen.Paths{a, b} {
		cert := parseCert(t, p.NodeCert)
		_, err := cert.Verify(x509.VerifyOptions{
			Roots:     pool,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		})
		assert.NoError(t, err, p.NodeCert)
	}
	assert.Contains(t, parseCert(t, b.NodeCert).DNSNames, "b.example")

	info, err := os.Stat(a.NodeKey)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestIssueRequiresNodeID(t *testing.T) {
	_, err := certgen.Issue(t.TempDir(), "", nil)
	assert.Error(t, err)
}
