package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/examdesk/sebconfig/server/encryption"
)

const markup = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>allowQuit</key>
	<false/>
</dict>
</plist>
`

func testCertificate(t *testing.T) *encryption.Certificate {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pipeline"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &encryption.Certificate{Cert: cert, PrivateKey: key}
}

func testComposer() *Composer {
	c := NewComposer(encryption.NewDefaultRegistry(), nil)
	c.ChunkSize = 1024
	c.Capacity = 4
	return c
}

func largeMarkup() []byte {
	var b bytes.Buffer
	b.WriteString("<plist><dict>")
	for i := 0; b.Len() < 512*1024; i++ {
		b.WriteString("<key>k</key><string>")
		b.WriteString(strings.Repeat("x", i%97))
		b.WriteString("</string>")
	}
	b.WriteString("</dict></plist>")
	return b.Bytes()
}

func pw(s string) encryption.Credentials {
	return encryption.Credentials{Password: &s}
}

// Ensure an export of every strategy imports back to the same markup.
func TestExportImportRoundTrip(t *testing.T) {
	cert := testCertificate(t)
	creds := encryption.Credentials{
		Password:     pw("secret123").Password,
		Certificates: encryption.CertificateList{cert},
	}
	contexts := []encryption.Context{
		encryption.NewPlainContext(),
		encryption.NewPasswordContext(encryption.PasswordPSWD, "secret123"),
		encryption.NewPasswordContext(encryption.PasswordPWCC, "secret123"),
		encryption.NewCertificateContext(encryption.PublicKeyHash, cert.Cert),
		encryption.NewCertificateContext(encryption.PublicKeyHashSymmetricKey, cert.Cert),
	}
	c := testComposer()
	for _, input := range [][]byte{[]byte(markup), largeMarkup(), {}} {
		for _, encCtx := range contexts {
			var container bytes.Buffer
			require.NoError(t, c.Export(context.Background(), &container, bytes.NewReader(input), encCtx))
			require.Equal(t, encCtx.Strategy().Header(), container.Bytes()[:encryption.HeaderLength])

			var out bytes.Buffer
			require.NoError(t, c.Import(context.Background(), &out, &container, creds))
			require.True(t, bytes.Equal(input, out.Bytes()), "strategy %s", encCtx.Strategy())
		}
	}
}

// Ensure pipelines whose pipes hold a single chunk still round trip.
func TestExportImportSingleChunkCapacity(t *testing.T) {
	c := testComposer()
	c.Capacity = 1
	input := largeMarkup()[:64*1024]

	errs := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		var container bytes.Buffer
		if err := c.Export(context.Background(), &container, bytes.NewReader(input),
			encryption.NewPasswordContext(encryption.PasswordPSWD, "secret123")); err != nil {
			errs <- err
			return
		}
		errs <- c.Import(context.Background(), &out, &container, pw("secret123"))
	}()
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("round trip did not finish")
	}
	require.True(t, bytes.Equal(input, out.Bytes()))
}

// Ensure the payload of a plain export is the gzip compressed markup.
func TestExportPlainIsCompressed(t *testing.T) {
	var container bytes.Buffer
	require.NoError(t, testComposer().Export(context.Background(), &container,
		strings.NewReader(markup), encryption.NewPlainContext()))
	require.Equal(t, "plnd", string(container.Bytes()[:4]))

	gz, err := gzip.NewReader(bytes.NewReader(container.Bytes()[4:]))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Equal(t, markup, string(plain))
}

// Ensure legacy containers are imported: raw markup, plain header without
// compression, and containers wrapped in an outer gzip layer.
func TestImportLegacyContainers(t *testing.T) {
	c := testComposer()

	var out bytes.Buffer
	require.NoError(t, c.Import(context.Background(), &out, strings.NewReader(markup), encryption.Credentials{}))
	require.Equal(t, markup, out.String())

	out.Reset()
	require.NoError(t, c.Import(context.Background(), &out, strings.NewReader("plnd"+markup), encryption.Credentials{}))
	require.Equal(t, markup, out.String())

	var container bytes.Buffer
	require.NoError(t, c.Export(context.Background(), &container, strings.NewReader(markup),
		encryption.NewPasswordContext(encryption.PasswordPSWD, "")))
	var wrapped bytes.Buffer
	gz := gzip.NewWriter(&wrapped)
	_, err := gz.Write(container.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	out.Reset()
	require.NoError(t, c.Import(context.Background(), &out, &wrapped, pw("")))
	require.Equal(t, markup, out.String())
}

// Ensure a missing password is reported as a configuration error.
func TestImportMissingPassword(t *testing.T) {
	c := testComposer()
	var container bytes.Buffer
	require.NoError(t, c.Export(context.Background(), &container, strings.NewReader(markup),
		encryption.NewPasswordContext(encryption.PasswordPWCC, "secret123")))

	err := c.Import(context.Background(), io.Discard, &container, encryption.Credentials{})
	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	require.Equal(t, encryption.PasswordPWCC, configErr.Strategy)
	require.True(t, errors.Is(err, encryption.ErrMissingPassword))
}

// Ensure a wrong password fails with an authentication error and not a
// configuration error.
func TestImportWrongPassword(t *testing.T) {
	c := testComposer()
	var container bytes.Buffer
	require.NoError(t, c.Export(context.Background(), &container, bytes.NewReader(largeMarkup()),
		encryption.NewPasswordContext(encryption.PasswordPSWD, "secret123")))

	err := c.Import(context.Background(), io.Discard, &container, pw("wrong"))
	require.True(t, errors.Is(err, encryption.ErrAuthentication), "%v", err)
	var configErr *ConfigurationError
	require.False(t, errors.As(err, &configErr))
}

// Ensure a failing producer aborts the export without blocking the other
// stages.
func TestExportProducerFailure(t *testing.T) {
	failure := errors.New("serializer failed")
	producer := func(w io.Writer) error {
		chunk := bytes.Repeat([]byte("<dict/>"), 1000)
		for i := 0; i < 100; i++ {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
		return failure
	}
	err := testComposer().ExportFrom(context.Background(), io.Discard, producer,
		encryption.NewPasswordContext(encryption.PasswordPSWD, "pw"))
	require.True(t, errors.Is(err, failure), "%v", err)
}

// Ensure a consumer failure aborts the import while the upstream stages
// still have data to deliver.
func TestImportConsumerFailure(t *testing.T) {
	c := testComposer()
	var container bytes.Buffer
	require.NoError(t, c.Export(context.Background(), &container, bytes.NewReader(largeMarkup()),
		encryption.NewPasswordContext(encryption.PasswordPSWD, "pw")))

	failure := errors.New("parser failed")
	consumer := func(r io.Reader) error {
		_, err := r.Read(make([]byte, 10))
		if err != nil {
			return err
		}
		return failure
	}
	err := c.ImportTo(context.Background(), consumer, &container, pw("pw"))
	require.True(t, errors.Is(err, failure), "%v", err)
}

// Ensure a producer and consumer pair streams the markup through.
func TestExportFromImportTo(t *testing.T) {
	c := testComposer()
	input := largeMarkup()
	var container bytes.Buffer
	require.NoError(t, c.ExportFrom(context.Background(), &container, func(w io.Writer) error {
		_, err := w.Write(input)
		return err
	}, encryption.NewPasswordContext(encryption.PasswordPSWD, "pw")))

	var out []byte
	require.NoError(t, c.ImportTo(context.Background(), func(r io.Reader) error {
		var err error
		out, err = io.ReadAll(r)
		return err
	}, &container, pw("pw")))
	require.True(t, bytes.Equal(input, out))
}

// Ensure canceling the context stops a running pipeline.
func TestExportCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	producer := func(w io.Writer) error {
		chunk := make([]byte, 4096)
		for {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
		}
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	errs := make(chan error, 1)
	go func() {
		errs <- testComposer().ExportFrom(ctx, io.Discard, producer,
			encryption.NewPasswordContext(encryption.PasswordPSWD, "pw"))
	}()
	select {
	case err := <-errs:
		require.True(t, errors.Is(err, context.Canceled), "%v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

// Ensure strategies without a cryptor are rejected up front.
func TestExportUnsupportedStrategy(t *testing.T) {
	c := testComposer()
	c.Registry = encryption.NewRegistry(encryption.NewPlainCryptor())
	err := c.Export(context.Background(), io.Discard, strings.NewReader(markup),
		encryption.NewPasswordContext(encryption.PasswordPSWD, "pw"))
	require.True(t, errors.Is(err, encryption.ErrUnsupportedStrategy))
}
