package registration

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kwv/rigidreg/geom"
)

// FileTypePointList is the header of the point list text format.
const FileTypePointList = "PointList"

// LoadPointList reads a point list file. Two layouts are accepted: the
// PointList format written by SavePointList, and raw whitespace-separated
// "x y z" triples, read as visible points without covariance.
func LoadPointList(path string) (PointList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading point list: %w", err)
	}
	defer f.Close()

	pl, err := DecodePointList(f)
	if err != nil {
		return nil, fmt.Errorf("parsing point list %s: %w", path, err)
	}
	return pl, nil
}

// DecodePointList is LoadPointList for an already opened stream.
func DecodePointList(r io.Reader) (PointList, error) {
	tok := newTokenizer(r)
	first, err := tok.next()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyPointSet
	}
	if err != nil {
		return nil, err
	}
	if first != "FileType" {
		return decodeRawPoints(tok, first)
	}

	v, err := tok.value(first)
	if err != nil {
		return nil, err
	}
	if v != FileTypePointList {
		return nil, fmt.Errorf("file type %q, want %s: %w", v, FileTypePointList, ErrBadHeader)
	}
	var seenVersion, seenDim bool
	for !seenVersion || !seenDim {
		t, err := tok.next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("header: %w", ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, err
		}
		switch t {
		case "Version":
			if _, err := tok.float(t); err != nil {
				return nil, err
			}
			seenVersion = true
		case "Dimension":
			dim, err := tok.int(t)
			if err != nil {
				return nil, err
			}
			if dim != 3 {
				return nil, fmt.Errorf("dimension %d, only 3 is supported: %w", dim, ErrBadHeader)
			}
			seenDim = true
		}
	}

	var pl PointList
	for {
		p, no, err := tok.point()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if no < 0 {
			pl = append(pl, p)
			continue
		}
		// numbered points land at their index; gaps stay invisible
		for len(pl) <= no {
			pl = append(pl, Point{})
		}
		pl[no] = p
	}
	return pl, nil
}

func decodeRawPoints(tok *tokenizer, first string) (PointList, error) {
	var pl PointList
	var xyz [3]float64
	n := 0
	for t, err := first, error(nil); ; t, err = tok.next() {
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		xyz[n], err = strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("raw coordinate %d: %w", len(pl)*3+n, err)
		}
		if n++; n == 3 {
			pl = append(pl, NewPoint(xyz[0], xyz[1], xyz[2]))
			n = 0
		}
	}
	if n != 0 {
		return nil, fmt.Errorf("raw points: trailing coordinates: %w", ErrUnexpectedEOF)
	}
	return pl, nil
}

// point reads one Numero/Visibility/Coordinates/Uncertainty/End block. no is
// -1 when the block carries no Numero. io.EOF is returned when the stream
// ends before any Coordinates.
func (t *tokenizer) point() (p Point, no int, err error) {
	no = -1
	p.Visible = true
	seen := false
	for {
		tok, err := t.next()
		if errors.Is(err, io.EOF) {
			if seen {
				return p, no, nil
			}
			return Point{}, 0, io.EOF
		}
		if err != nil {
			return Point{}, 0, err
		}
		switch tok {
		case "Numero":
			var n int64
			if n, err = t.int(tok); err == nil {
				no = int(n)
			}
		case "Visibility":
			var v int64
			if v, err = t.int(tok); err == nil {
				p.Visible = v != 0
			}
		case "Coordinates":
			var c [3]float64
			for i := 0; i < 3 && err == nil; i++ {
				c[i], err = t.float(tok)
			}
			p.Coord = geom.Vec{X: c[0], Y: c[1], Z: c[2]}
			seen = true
		case "Uncertainty":
			for i := 0; i < 3 && err == nil; i++ {
				for j := 0; j < 3 && err == nil; j++ {
					p.Cov[i][j], err = t.float(tok)
				}
			}
		case "End":
			if !seen {
				return Point{}, 0, fmt.Errorf("point without Coordinates: %w", ErrBadHeader)
			}
			return p, no, nil
		}
		if err != nil {
			return Point{}, 0, err
		}
	}
}

// SavePointList writes pl in the PointList format, one numbered block per point.
func SavePointList(path string, pl PointList, overwrite bool) error {
	return writeFile(path, overwrite, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "FileType %s\nVersion %s\nDimension 3\n", FileTypePointList, formatVersion); err != nil {
			return err
		}
		for i, p := range pl {
			vis := 0
			if p.Visible {
				vis = 1
			}
			_, err := fmt.Fprintf(w, "Numero %d\nVisibility %d\nCoordinates\n%.10g\t%.10g\t%.10g\nUncertainty\n",
				i, vis, p.Coord.X, p.Coord.Y, p.Coord.Z)
			if err != nil {
				return err
			}
			for _, row := range p.Cov {
				if _, err := fmt.Fprintf(w, "%.10g\t%.10g\t%.10g\n", row[0], row[1], row[2]); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "End\n"); err != nil {
				return err
			}
		}
		return nil
	})
}
