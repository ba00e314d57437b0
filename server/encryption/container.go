package encryption

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// WriteHeader writes the magic header of the strategy.
func WriteHeader(w io.Writer, strategy Strategy) error {
	if _, ok := strategies[strategy]; !ok {
		return errors.Wrapf(ErrUnsupportedStrategy, "cannot write header of %s", strategy)
	}
	if _, err := w.Write(strategy.Header()); err != nil {
		return errors.Wrap(err, "failed to write container header")
	}
	return nil
}

// ReadHeader reads the strategy header of a container and returns the
// strategy and a reader positioned at the payload. Containers without a
// known header are legacy plain text: the consumed bytes are put back in
// front of the payload, also when the stream is shorter than a header.
func ReadHeader(r io.Reader) (Strategy, io.Reader, error) {
	header := make([]byte, HeaderLength)
	n, err := io.ReadFull(r, header)
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		return PlainText, bytes.NewReader(header[:n]), nil
	default:
		return PlainText, nil, errors.Wrap(err, "failed to read container header")
	}
	if strategy, ok := StrategyFromHeader(header); ok {
		return strategy, r, nil
	}
	return PlainText, io.MultiReader(bytes.NewReader(header), r), nil
}
