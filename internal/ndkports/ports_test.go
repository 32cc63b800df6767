package ndkports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPortsValidate(t *testing.T) {
	set, err := NewPortSet(DefaultPorts()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"blst", "curl", "gmp", "jsoncpp", "libpng", "openssl", "sodium", "utf8proc", "zlib"}, set.Names())

	g, err := set.Graph()
	require.NoError(t, err)
	order, err := g.BuildOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["openssl"], pos["curl"])
	assert.Less(t, pos["zlib"], pos["libpng"])
}

func TestPortSetRejectsDuplicates(t *testing.T) {
	_, err := NewPortSet(zlibPort(), zlibPort())
	assert.ErrorContains(t, err, "duplicate port zlib")
}

func TestPortSetGetUnknown(t *testing.T) {
	set, err := NewPortSet(zlibPort())
	require.NoError(t, err)
	_, err = set.Get("openssl")
	assert.ErrorContains(t, err, "known: zlib")
}

func TestPortValidate(t *testing.T) {
	p := curlPort()
	p.Dependencies = nil
	assert.ErrorContains(t, p.Validate(), "is not a dependency")

	p = curlPort()
	p.Sysroot = SysrootNone
	assert.ErrorContains(t, p.Validate(), "no sysroot")

	p = zlibPort()
	p.Version = "1.3.x"
	var ive *InvalidVersionError
	assert.ErrorAs(t, p.Validate(), &ive)

	p = zlibPort()
	p.Abis = []string{"mips"}
	var uae *UnsupportedArchitectureError
	assert.ErrorAs(t, p.Validate(), &uae)

	p = zlibPort()
	p.Modules = nil
	assert.ErrorContains(t, p.Validate(), "no modules")
}

func TestPortSourceRequest(t *testing.T) {
	req := opensslPort().Source()
	assert.Equal(t, "https://github.com/openssl/openssl/releases/download/openssl-3.0.15/openssl-3.0.15.tar.gz", req.URL)
	assert.Equal(t, req.URL+".sha256", req.ChecksumURL)
	assert.Equal(t, req.URL+".asc", req.SignatureURL)
	assert.Equal(t, opensslSigner, req.SignerFingerprint)

	req = curlPort().Source()
	assert.Equal(t, "https://github.com/curl/curl/releases/download/curl-8_10_1/curl-8.10.1.tar.gz", req.URL)
	assert.Empty(t, req.SignatureURL)
}
