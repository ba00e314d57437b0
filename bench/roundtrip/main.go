package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/examdesk/sebconfig/bench/common"
	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/logger"
	"github.com/examdesk/sebconfig/server/pipeline"
)

const benchPassword = "bench-password"

func main() {
	app := cli.NewApp()
	app.Name = "sebconfig-bench-roundtrip"
	app.Usage = "Benchmark export and import pipelines"
	app.Version = "1.0.0"
	app.Flags = getFlags()
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "strategy, s",
			Usage: "Encryption strategy: plnd, pswd, pwcc, pkhs, phsk",
			Value: "pswd",
		},
		cli.IntFlag{
			Name:  "documents, n",
			Usage: "Number of documents to round trip",
			Value: 200,
		},
		cli.IntFlag{
			Name:  "document-size, ds",
			Usage: "Approximate size of each document in bytes",
			Value: 256 * 1024,
		},
		cli.IntFlag{
			Name:  "concurrent, c",
			Usage: "Number of concurrent round trips",
			Value: 4,
		},
		cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Pipe chunk size in bytes",
			Value: pipeline.DefaultChunkSize,
		},
		cli.IntFlag{
			Name:  "buffer-chunks",
			Usage: "Pipe capacity in chunks",
			Value: pipeline.DefaultCapacity,
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "Output format: text, json",
			Value: "text",
		},
	}
}

func run(c *cli.Context) error {
	strategy, err := encryption.ParseStrategy(c.String("strategy"))
	if err != nil {
		return err
	}
	numDocuments := c.Int("documents")
	documentSize := c.Int("document-size")
	concurrent := c.Int("concurrent")
	if numDocuments <= 0 {
		return fmt.Errorf("documents must be > 0")
	}
	if documentSize <= 0 {
		return fmt.Errorf("document-size must be > 0")
	}
	if concurrent <= 0 {
		concurrent = 1
	}

	encCtx, creds, err := contexts(strategy)
	if err != nil {
		return err
	}

	composer := pipeline.NewComposer(encryption.NewDefaultRegistry(), logger.NewSilentLogger())
	composer.ChunkSize = c.Int("chunk-size")
	composer.Capacity = c.Int("buffer-chunks")

	// Pre-generate documents (NOT timed)
	fmt.Printf("Pre-generating %d documents of %d bytes each...\n", numDocuments, documentSize)
	docs := common.GenerateDocuments(numDocuments, documentSize)
	fmt.Printf("Generated %d documents (%.2f MB total)\n",
		len(docs), float64(common.TotalByteSize(docs))/1024/1024)

	stats := common.NewStats()
	fmt.Printf("Starting benchmark with %d concurrent round trip(s), strategy=%s...\n", concurrent, strategy)
	fmt.Println("---")

	stats.Start()
	err = runBenchmark(composer, docs, concurrent, encCtx, creds, stats)
	stats.Stop()
	if err != nil {
		return errors.Wrap(err, "benchmark failed")
	}
	return common.PrintResults(os.Stdout, strategy.String(), stats, c.String("output"))
}

func runBenchmark(composer *pipeline.Composer, docs [][]byte, concurrent int,
	encCtx encryption.Context, creds encryption.Credentials, stats *common.Stats) error {

	work := make(chan []byte)
	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		defer close(work)
		for _, doc := range docs {
			select {
			case work <- doc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < concurrent; i++ {
		group.Go(func() error {
			for doc := range work {
				if err := roundTrip(ctx, composer, doc, encCtx, creds, stats); err != nil {
					stats.RecordError()
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}

func roundTrip(ctx context.Context, composer *pipeline.Composer, doc []byte,
	encCtx encryption.Context, creds encryption.Credentials, stats *common.Stats) error {

	var container bytes.Buffer
	start := time.Now()
	if err := composer.Export(ctx, &container, bytes.NewReader(doc), encCtx); err != nil {
		return err
	}
	exportTime := time.Since(start)
	size := container.Len()

	var out bytes.Buffer
	start = time.Now()
	if err := composer.Import(ctx, &out, &container, creds); err != nil {
		return err
	}
	importTime := time.Since(start)
	if !bytes.Equal(doc, out.Bytes()) {
		return errors.New("imported markup differs from the exported document")
	}
	stats.RecordRoundTrip(len(doc), size, exportTime, importTime)
	return nil
}

// contexts returns the export context and the import credentials of a
// strategy. Certificate strategies use a throwaway self-signed certificate.
func contexts(strategy encryption.Strategy) (encryption.Context, encryption.Credentials, error) {
	password := benchPassword
	creds := encryption.Credentials{Password: &password}
	switch {
	case strategy.IsPassword():
		return encryption.NewPasswordContext(strategy, password), creds, nil
	case strategy.IsCertificate():
		cert, err := selfSigned()
		if err != nil {
			return encryption.Context{}, creds, err
		}
		creds.Certificates = encryption.CertificateList{cert}
		return encryption.NewCertificateContext(strategy, cert.Cert), creds, nil
	default:
		return encryption.NewPlainContext(), creds, nil
	}
}

func selfSigned() (*encryption.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sebconfig-bench"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &encryption.Certificate{Cert: cert, PrivateKey: key}, nil
}
