package registration

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// File types of the transform text format.
const (
	FileTypeRigidMatrix = "RigidMatrix"
	FileTypeMatrixList  = "MatrixList"
	fileTypeMatrix      = "Matrix" // deprecated alias of RigidMatrix
	formatVersion       = "1.0"
)

// Save writes t to path in the RigidMatrix text format. It refuses to replace
// an existing file unless overwrite is set, and only saves transforms that
// are marked OK and pass IsValid.
func (t RigidTransform) Save(path string, overwrite bool) error {
	if !t.OK || !t.IsValid() {
		return fmt.Errorf("saving transform to %s: %w", path, ErrInvalidTransform)
	}
	return writeFile(path, overwrite, t.EncodeFile)
}

// EncodeFile writes t as a complete RigidMatrix file, header included.
func (t RigidTransform) EncodeFile(w io.Writer) error {
	if err := writeHeader(w, FileTypeRigidMatrix); err != nil {
		return err
	}
	return t.Encode(w)
}

// SaveList writes every transform of list as one MatrixList file.
func SaveList(path string, list []RigidTransform, overwrite bool) error {
	for i, t := range list {
		if !t.OK || !t.IsValid() {
			return fmt.Errorf("saving transform list to %s: element %d: %w", path, i, ErrInvalidTransform)
		}
	}
	return writeFile(path, overwrite, func(w io.Writer) error {
		if err := writeHeader(w, FileTypeMatrixList); err != nil {
			return err
		}
		for _, t := range list {
			if err := t.Encode(w); err != nil {
				return err
			}
		}
		return nil
	})
}

// Encode writes one Date/Time/RMS/EC/Matrix/End block.
func (t RigidTransform) Encode(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Date %d\nTime %d\nRMS %.10g\nEC %.10g\nMatrix\n", t.Date, t.Time, t.RMS, t.StdDev)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			fmt.Fprintf(&b, "%.10g\t", t.M[i][j])
		}
		b.WriteString("\n")
	}
	b.WriteString("End\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeader(w io.Writer, fileType string) error {
	_, err := fmt.Fprintf(w, "FileType %s\nVersion %s\n", fileType, formatVersion)
	return err
}

func writeFile(path string, overwrite bool, body func(io.Writer) error) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("writing %s: %w", path, ErrFileExists)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if err := body(w); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a RigidMatrix file, or a MatrixList file whose blocks are
// averaged with FilterConstant. On failure the returned transform is the
// zero (invalid) value.
func Load(path string) (RigidTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return RigidTransform{}, fmt.Errorf("reading transform file: %w", err)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return RigidTransform{}, fmt.Errorf("parsing transform file %s: %w", path, err)
	}
	return t, nil
}

// Decode is Load for an already opened stream.
func Decode(r io.Reader) (RigidTransform, error) {
	tok := newTokenizer(r)
	fileType, err := tok.header(FileTypeRigidMatrix, fileTypeMatrix, FileTypeMatrixList)
	if err != nil {
		return RigidTransform{}, err
	}
	if fileType != FileTypeMatrixList {
		return tok.block()
	}

	list, err := tok.blocks()
	if err != nil {
		return RigidTransform{}, err
	}
	return Average(list, FilterConstant)
}

// LoadList reads every block of a MatrixList file, in file order.
func LoadList(path string) ([]RigidTransform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading transform list: %w", err)
	}
	defer f.Close()

	tok := newTokenizer(f)
	if _, err := tok.header(FileTypeMatrixList); err != nil {
		return nil, fmt.Errorf("parsing transform list %s: %w", path, err)
	}
	list, err := tok.blocks()
	if err != nil {
		return nil, fmt.Errorf("parsing transform list %s: %w", path, err)
	}
	return list, nil
}

// tokenizer splits the text formats on whitespace.
type tokenizer struct {
	s *bufio.Scanner
}

func newTokenizer(r io.Reader) *tokenizer {
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	return &tokenizer{s: s}
}

// next returns the next token, or io.EOF
func (t *tokenizer) next() (string, error) {
	if t.s.Scan() {
		return t.s.Text(), nil
	}
	if err := t.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (t *tokenizer) value(key string) (string, error) {
	v, err := t.next()
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("value of %s: %w", key, ErrUnexpectedEOF)
	}
	return v, err
}

func (t *tokenizer) float(key string) (float64, error) {
	v, err := t.value(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("value of %s: %w", key, err)
	}
	return f, nil
}

func (t *tokenizer) int(key string) (int64, error) {
	v, err := t.value(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value of %s: %w", key, err)
	}
	return n, nil
}

// header reads tokens until both FileType and Version were seen and returns
// the file type. Unknown tokens before that are skipped.
func (t *tokenizer) header(accepted ...string) (string, error) {
	var fileType string
	var seenType, seenVersion bool
	for !seenType || !seenVersion {
		tok, err := t.next()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("header: %w", ErrUnexpectedEOF)
		}
		if err != nil {
			return "", err
		}
		switch tok {
		case "FileType":
			v, err := t.value(tok)
			if err != nil {
				return "", err
			}
			ok := false
			for _, a := range accepted {
				ok = ok || v == a
			}
			if !ok {
				return "", fmt.Errorf("file type %q, want one of %v: %w", v, accepted, ErrBadHeader)
			}
			fileType, seenType = v, true
		case "Version":
			if _, err := t.float(tok); err != nil {
				return "", err
			}
			seenVersion = true
		}
	}
	return fileType, nil
}

// block reads Date, Time, RMS, EC and Matrix entries up to End or the end of
// the stream. The block is only accepted when it held a Matrix.
func (t *tokenizer) block() (RigidTransform, error) {
	rt := RigidTransform{Meta: Meta{RMS: -1}}
	seenMatrix := false
	for {
		tok, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RigidTransform{}, err
		}
		switch tok {
		case "Date":
			rt.Date, err = t.int(tok)
		case "Time":
			rt.Time, err = t.int(tok)
		case "RMS":
			rt.RMS, err = t.float(tok)
		case "EC":
			rt.StdDev, err = t.float(tok)
		case "Matrix":
			for i := 0; i < 4 && err == nil; i++ {
				for j := 0; j < 4 && err == nil; j++ {
					rt.M[i][j], err = t.float(tok)
				}
			}
			seenMatrix = true
		}
		if err != nil {
			return RigidTransform{}, err
		}
		if tok == "End" {
			break
		}
	}
	if !seenMatrix {
		return RigidTransform{}, ErrMissingMatrix
	}
	if !rt.IsValid() {
		return RigidTransform{}, ErrInvalidTransform
	}
	rt.OK = true
	return rt, nil
}

// blocks reads blocks until one fails to hold a Matrix; an empty list is an error.
func (t *tokenizer) blocks() ([]RigidTransform, error) {
	var list []RigidTransform
	for {
		rt, err := t.block()
		if errors.Is(err, ErrMissingMatrix) {
			break
		}
		if err != nil {
			return nil, err
		}
		list = append(list, rt)
	}
	if len(list) == 0 {
		return nil, ErrEmptyList
	}
	return list, nil
}
