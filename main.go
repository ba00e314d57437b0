package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/examdesk/sebconfig/server"
	"github.com/examdesk/sebconfig/server/certs"
	"github.com/examdesk/sebconfig/server/encryption"
	"github.com/examdesk/sebconfig/server/model"
	"github.com/examdesk/sebconfig/server/store"
)

// Configuration id used for values parsed by the command line tool.
const cliConfigurationID = 1

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sebconfig"
	app.Usage = "Encode, encrypt and decrypt Safe Exam Browser configurations"
	app.Version = server.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from `FILE`",
		},
		cli.StringFlag{
			Name:  "level, l",
			Usage: "logging level [debug|info|warn|error]",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "export",
			Usage:  "compress and encrypt plist markup into a configuration file",
			Flags:  exportFlags(),
			Action: exportAction,
		},
		{
			Name:   "import",
			Usage:  "decrypt and decompress a configuration file into plist markup",
			Flags:  importFlags(),
			Action: importAction,
		},
		{
			Name:   "values",
			Usage:  "print the attribute values of plist markup",
			Flags:  []cli.Flag{attributesFlag, inFlag},
			Action: valuesAction,
		},
		{
			Name:   "render",
			Usage:  "parse and serialize plist markup into its canonical form",
			Flags:  []cli.Flag{attributesFlag, inFlag, outFlag},
			Action: renderAction,
		},
	}
	return app
}

var (
	inFlag = cli.StringFlag{
		Name:  "in, i",
		Usage: "read input from `FILE` (default: stdin)",
	}
	outFlag = cli.StringFlag{
		Name:  "out, o",
		Usage: "write output to `FILE` (default: stdout)",
	}
	passwordFlag = cli.StringFlag{
		Name:   "password, p",
		Usage:  "encryption password",
		EnvVar: "SEB_PASSWORD",
	}
	attributesFlag = cli.StringFlag{
		Name:  "attributes, a",
		Usage: "load attribute definitions from `FILE` (default: attributes.file setting)",
	}
)

func exportFlags() []cli.Flag {
	return []cli.Flag{
		inFlag,
		outFlag,
		passwordFlag,
		cli.StringFlag{
			Name:  "strategy, s",
			Usage: "encryption strategy [plnd|pswd|pwcc|pkhs|phsk]",
			Value: string(encryption.PasswordPSWD.Header()),
		},
		cli.StringFlag{
			Name:  "certificate",
			Usage: "encrypt for the certificate in PEM `FILE`",
		},
	}
}

func importFlags() []cli.Flag {
	return []cli.Flag{
		inFlag,
		outFlag,
		passwordFlag,
		cli.Int64Flag{
			Name:  "institution",
			Usage: "look up certificates of institution `ID`",
		},
		cli.StringFlag{
			Name:  "certificate",
			Usage: "decrypt with the certificate and private key in PEM `FILE`",
		},
	}
}

func newServer(c *cli.Context) (*server.Server, *server.Config, error) {
	config, err := server.NewConfig(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	if level := c.GlobalString("level"); level != "" {
		config.LogLevel, err = server.GetLogLevel(level)
		if err != nil {
			return nil, nil, err
		}
	}
	s, err := server.New(config)
	if err != nil {
		return nil, nil, err
	}
	return s, config, nil
}

// newEncryptionContext builds the export context of a strategy.
func newEncryptionContext(c *cli.Context) (encryption.Context, error) {
	strategy, err := encryption.ParseStrategy(c.String("strategy"))
	if err != nil {
		return encryption.Context{}, err
	}
	switch {
	case strategy.IsPassword():
		if !c.IsSet("password") && os.Getenv("SEB_PASSWORD") == "" {
			return encryption.Context{}, errors.Wrapf(encryption.ErrMissingPassword, "strategy %s", strategy)
		}
		return encryption.NewPasswordContext(strategy, c.String("password")), nil
	case strategy.IsCertificate():
		cert, err := loadCertificate(c.String("certificate"))
		if err != nil {
			return encryption.Context{}, err
		}
		return encryption.NewCertificateContext(strategy, cert.Cert), nil
	default:
		return encryption.NewPlainContext(), nil
	}
}

func loadCertificate(path string) (*encryption.Certificate, error) {
	if path == "" {
		return nil, errors.New("--certificate is required for certificate strategies")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read certificate")
	}
	return certs.ParsePEM(data)
}

func exportAction(c *cli.Context) error {
	s, _, err := newServer(c)
	if err != nil {
		return err
	}
	encCtx, err := newEncryptionContext(c)
	if err != nil {
		return err
	}
	in, closeIn, err := openInput(c.String("in"))
	if err != nil {
		return err
	}
	defer closeIn()

	ctx, cancel := s.HandleSignals(context.Background())
	defer cancel()
	var out bytes.Buffer
	if err := s.ExportEncrypted(ctx, &out, in, encCtx); err != nil {
		return err
	}
	return writeOutput(c.String("out"), &out)
}

func importAction(c *cli.Context) error {
	s, _, err := newServer(c)
	if err != nil {
		return err
	}
	institutionID := c.Int64("institution")
	if path := c.String("certificate"); path != "" {
		cert, err := loadCertificate(path)
		if err != nil {
			return err
		}
		s.Certificates().Add(institutionID, cert)
	}
	var password *string
	if c.IsSet("password") || os.Getenv("SEB_PASSWORD") != "" {
		pw := c.String("password")
		password = &pw
	}
	in, closeIn, err := openInput(c.String("in"))
	if err != nil {
		return err
	}
	defer closeIn()

	ctx, cancel := s.HandleSignals(context.Background())
	defer cancel()
	// Output is only written once the whole container authenticated.
	var out bytes.Buffer
	if err := s.ImportDecrypted(ctx, &out, in, institutionID, password); err != nil {
		return err
	}
	return writeOutput(c.String("out"), &out)
}

// parseInput parses the markup of the input into a store holding the
// configured attribute definitions.
func parseInput(c *cli.Context) (*server.Server, *store.Memory, error) {
	s, config, err := newServer(c)
	if err != nil {
		return nil, nil, err
	}
	path := c.String("attributes")
	if path == "" {
		path = config.AttributesFile
	}
	if path == "" {
		return nil, nil, errors.New("no attribute definitions, use --attributes or attributes.file")
	}
	attrs, err := store.LoadAttributes(path)
	if err != nil {
		return nil, nil, err
	}
	memory, err := store.NewMemory(attrs...)
	if err != nil {
		return nil, nil, err
	}
	in, closeIn, err := openInput(c.String("in"))
	if err != nil {
		return nil, nil, err
	}
	defer closeIn()
	if err := s.ParseMarkup(in, 0, cliConfigurationID, memory.Resolver(),
		memory.Sink(0, cliConfigurationID)); err != nil {
		return nil, nil, err
	}
	return s, memory, nil
}

func valuesAction(c *cli.Context) error {
	_, memory, err := parseInput(c)
	if err != nil {
		return err
	}
	byID := make(map[int64]*model.Attribute)
	for _, attr := range memory.Attributes() {
		byID[attr.ID] = attr
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ATTRIBUTE\tTYPE\tINDEX\tVALUE")
	for _, v := range memory.Values(cliConfigurationID) {
		attr := byID[v.AttributeID]
		value := v.Value
		if v.Null {
			value = "<null>"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", attr.Name, attr.Type, v.ListIndex, value)
	}
	return w.Flush()
}

func renderAction(c *cli.Context) error {
	s, memory, err := parseInput(c)
	if err != nil {
		return err
	}
	snapshot, err := memory.Snapshot(cliConfigurationID)
	if err != nil {
		snapshot, err = memory.EmptySnapshot(0, cliConfigurationID)
		if err != nil {
			return err
		}
	}
	var out bytes.Buffer
	if err := s.SerializeMarkup(&out, snapshot.Entries()); err != nil {
		return err
	}
	return writeOutput(c.String("out"), &out)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open input")
	}
	return f, func() { f.Close() }, nil
}

// writeOutput replaces path atomically with the output, or writes it to
// stdout when no path is given.
func writeOutput(path string, out *bytes.Buffer) error {
	if path == "" || path == "-" {
		_, err := io.Copy(os.Stdout, out)
		return err
	}
	return errors.Wrap(atomic.WriteFile(path, out), "failed to write output")
}
