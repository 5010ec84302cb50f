package sign

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// objRef is an indirect object reference (number and generation).
type objRef struct {
	Num int
	Gen int
}

func (r objRef) String() string {
	return fmt.Sprintf("%d %d R", r.Num, r.Gen)
}

// fileInfo captures what the incremental writer needs to know about the
// previous revision: where its xref section lives, how large the object
// table is, and which objects the new trailer must keep pointing at.
type fileInfo struct {
	// StartXref is the byte offset of the previous xref section. It
	// becomes the /Prev entry of the appended revision.
	StartXref int64

	// Size is the previous /Size value: the next free object number.
	Size int

	// Root references the previous document catalog.
	Root objRef

	// Info references the document information dictionary, if any.
	Info *objRef

	// IDRaw is the raw /ID array from the previous trailer, copied
	// verbatim into the new trailer so the file identifier survives.
	IDRaw []byte

	// XrefIsStream records whether the previous revision used a
	// cross-reference stream. The appended revision uses the same
	// style, as required for incremental updates.
	XrefIsStream bool
}

var (
	refPattern   = `(\d+)\s+(\d+)\s+R`
	rootRegexp   = regexp.MustCompile(`/Root\s+` + refPattern)
	infoRegexp   = regexp.MustCompile(`/Info\s+` + refPattern)
	sizeRegexp   = regexp.MustCompile(`/Size\s+(\d+)`)
	idRegexp     = regexp.MustCompile(`(?s)/ID\s*\[.*?\]`)
	objHeadRegex = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+obj`)
)

// readFileInfo locates the final xref section of data and extracts the
// trailer entries the appended revision depends on. Both classic xref
// tables and cross-reference streams are handled; in either case only
// the trailer dictionary is read, never the section body.
func readFileInfo(data []byte) (*fileInfo, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing startxref", ErrMalformedPDF)
	}

	offset, err := readIntAfter(data, idx+len("startxref"))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable startxref offset", ErrMalformedPDF)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: startxref offset %d out of bounds", ErrMalformedPDF, offset)
	}

	section := data[offset:]
	info := &fileInfo{StartXref: offset}

	var trailerDict []byte
	if bytes.HasPrefix(bytes.TrimLeft(section, "\r\n \t"), []byte("xref")) {
		// Classic cross-reference table followed by a trailer keyword.
		tIdx := bytes.Index(section, []byte("trailer"))
		if tIdx < 0 {
			return nil, fmt.Errorf("%w: xref table without trailer", ErrMalformedPDF)
		}
		trailerDict, err = balancedDict(section[tIdx:])
		if err != nil {
			return nil, err
		}
	} else if objHeadRegex.Match(section) {
		// Cross-reference stream: the trailer entries live in the
		// stream dictionary itself.
		info.XrefIsStream = true
		trailerDict, err = balancedDict(section)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("%w: startxref does not point at an xref section", ErrMalformedPDF)
	}

	m := sizeRegexp.FindSubmatch(trailerDict)
	if m == nil {
		return nil, fmt.Errorf("%w: trailer missing /Size", ErrMalformedPDF)
	}
	info.Size, _ = strconv.Atoi(string(m[1]))

	root := rootRegexp.FindSubmatch(trailerDict)
	if root == nil {
		return nil, fmt.Errorf("%w: trailer missing /Root", ErrMalformedPDF)
	}
	info.Root = objRef{Num: atoi(root[1]), Gen: atoi(root[2])}

	if im := infoRegexp.FindSubmatch(trailerDict); im != nil {
		ref := objRef{Num: atoi(im[1]), Gen: atoi(im[2])}
		info.Info = &ref
	}
	if id := idRegexp.Find(trailerDict); id != nil {
		info.IDRaw = append([]byte(nil), id...)
	}

	return info, nil
}

// balancedDict returns the raw bytes of the first << ... >> block in b,
// including nested dictionaries.
func balancedDict(b []byte) ([]byte, error) {
	start := bytes.Index(b, []byte("<<"))
	if start < 0 {
		return nil, fmt.Errorf("%w: dictionary open marker not found", ErrMalformedPDF)
	}
	depth := 0
	for i := start; i < len(b)-1; i++ {
		switch {
		case b[i] == '<' && b[i+1] == '<':
			depth++
			i++
		case b[i] == '>' && b[i+1] == '>':
			depth--
			i++
			if depth == 0 {
				return b[start : i+1], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: unterminated dictionary", ErrMalformedPDF)
}

// readIntAfter parses the first decimal integer following position pos,
// skipping whitespace.
func readIntAfter(data []byte, pos int) (int64, error) {
	for pos < len(data) && isWhitespace(data[pos]) {
		pos++
	}
	end := pos
	for end < len(data) && data[end] >= '0' && data[end] <= '9' {
		end++
	}
	if end == pos {
		return 0, fmt.Errorf("no integer at offset %d", pos)
	}
	return strconv.ParseInt(string(data[pos:end]), 10, 64)
}

func isWhitespace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func atoi(b []byte) int {
	n, _ := strconv.Atoi(string(b))
	return n
}
