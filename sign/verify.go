package sign

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
)

// Verification errors.
var (
	ErrNoSignatures   = errors.New("document carries no signatures")
	ErrBrokenCoverage = errors.New("signature byte range does not match document")
)

// SignatureInfo describes one verified signature in a document.
type SignatureInfo struct {
	// FieldName is the signature field the signature lives in.
	FieldName string

	// Certificate is the end-entity signing certificate.
	Certificate *x509.Certificate

	// ByteRange is the [offset length offset length] coverage of the
	// signature over the document bytes.
	ByteRange []int64

	// CoversWholeDocument reports whether the byte range extends to
	// the end of the verified byte slice. Earlier signatures in an
	// incrementally updated file cover only their own revision.
	CoversWholeDocument bool
}

// Verify checks every signature embedded in data. Each signature's
// covered regions are digested and verified against its CMS object
// independently, so an earlier signature stays verifiable after later
// incremental updates. Trust chains are not evaluated here; callers
// needing anchoring verify the returned certificates themselves.
func Verify(data []byte) (infos []SignatureInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			infos, err = nil, fmt.Errorf("%w: %v", ErrMalformedPDF, r)
		}
	}()

	rd, rerr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if rerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPDF, rerr)
	}

	acro := rd.Trailer().Key("Root").Key("AcroForm")
	if acro.IsNull() {
		return nil, ErrNoSignatures
	}
	fields := acro.Key("Fields")
	for i := 0; i < fields.Len(); i++ {
		field := fields.Index(i)
		sig := field.Key("V")
		if sig.IsNull() || sig.Key("Contents").IsNull() {
			continue
		}

		info, verr := verifyOne(data, field, sig)
		if verr != nil {
			return nil, verr
		}
		infos = append(infos, *info)
	}

	if len(infos) == 0 {
		return nil, ErrNoSignatures
	}
	return infos, nil
}

func verifyOne(data []byte, field, sig pdf.Value) (*SignatureInfo, error) {
	ranges := sig.Key("ByteRange")
	if ranges.Len() != 4 {
		return nil, fmt.Errorf("%w: malformed ByteRange", ErrBrokenCoverage)
	}
	br := make([]int64, 4)
	for j := 0; j < 4; j++ {
		br[j] = ranges.Index(j).Int64()
	}
	for j := 0; j < 4; j += 2 {
		if br[j] < 0 || br[j+1] < 0 || br[j]+br[j+1] > int64(len(data)) {
			return nil, fmt.Errorf("%w: byte range exceeds document", ErrBrokenCoverage)
		}
	}

	covered := make([]byte, 0, br[1]+br[3])
	covered = append(covered, data[br[0]:br[0]+br[1]]...)
	covered = append(covered, data[br[2]:br[2]+br[3]]...)

	contents := []byte(sig.Key("Contents").RawString())
	der, err := trimDER(contents)
	if err != nil {
		return nil, err
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CMS object: %v", ErrBrokenCoverage, err)
	}
	p7.Content = covered
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokenCoverage, err)
	}

	info := &SignatureInfo{
		ByteRange:           br,
		Certificate:         p7.GetOnlySigner(),
		CoversWholeDocument: br[2]+br[3] == int64(len(data)),
	}
	if name := field.Key("T"); !name.IsNull() {
		info.FieldName = name.Text()
	}
	return info, nil
}

// trimDER cuts the zero padding the placeholder leaves after the CMS
// object, using the outer DER length header.
func trimDER(b []byte) ([]byte, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: signature contents too short", ErrBrokenCoverage)
	}
	length := int(b[1])
	headerLen := 2
	if b[1]&0x80 != 0 {
		n := int(b[1] & 0x7f)
		if n == 0 || n > 8 || len(b) < 2+n {
			return nil, fmt.Errorf("%w: invalid DER length", ErrBrokenCoverage)
		}
		length = 0
		for _, c := range b[2 : 2+n] {
			length = length<<8 | int(c)
		}
		headerLen = 2 + n
	}
	total := headerLen + length
	if total > len(b) {
		return nil, fmt.Errorf("%w: truncated DER object", ErrBrokenCoverage)
	}
	return b[:total], nil
}
