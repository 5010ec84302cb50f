package sign

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/digitorus/pdf"
)

// DefaultReserve is the default byte budget for the signature
// placeholder. It must be generous enough for the full certificate
// chain; undersizing makes signing fail, oversizing only wastes space.
const DefaultReserve = 16 * 1024

// byteRangeSlotWidth is the fixed width of each ByteRange integer slot.
const byteRangeSlotWidth = 10

// Options controls a single signing operation.
type Options struct {
	// FieldName is the signature field name. Every signature in a
	// document needs a distinct name so each verifies independently.
	FieldName string

	// Reason, Name, Location and ContactInfo populate the signature
	// dictionary metadata.
	Reason      string
	Name        string
	Location    string
	ContactInfo string

	// Reserve overrides the placeholder byte budget. Zero selects the
	// larger of DefaultReserve and the signer's own estimate.
	Reserve int
}

// Engine applies incremental signatures to PDF documents.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a signing engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates a signing engine with a fixed clock source.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Sign appends one signature to input and returns the signed document.
//
// The update is strictly additive: all bytes of input are preserved
// verbatim and the new signature's ByteRange covers the whole output
// except its own placeholder, so signatures already present in input
// remain valid. The revision reuses the cross-reference style of the
// previous one (classic table or cross-reference stream).
func (e *Engine) Sign(input []byte, signer Signer, opts Options) ([]byte, error) {
	if opts.FieldName == "" {
		return nil, fmt.Errorf("%w: signature field name required", ErrSigningFailure)
	}
	if signer.Certificate() == nil {
		return nil, ErrNoCertificate
	}

	doc, err := inspect(input, opts.FieldName)
	if err != nil {
		return nil, err
	}

	reserve := opts.Reserve
	if reserve == 0 {
		reserve = DefaultReserve
		if est := signer.SignatureSize(); est > reserve {
			reserve = est
		}
	}

	out, region, err := e.appendRevision(input, doc, opts, reserve)
	if err != nil {
		return nil, err
	}

	// Digest everything outside the reserved Contents region.
	covered := make([]byte, 0, int64(len(out))-(region.end-region.start))
	covered = append(covered, out[:region.start]...)
	covered = append(covered, out[region.end:]...)

	der, err := signer.Sign(covered)
	if err != nil {
		return nil, err
	}

	if err := spliceSignature(out, region, der); err != nil {
		return nil, err
	}
	return out, nil
}

// contentsRegion is the reserved placeholder location in the output,
// from the opening '<' (inclusive) to just past the closing '>'.
type contentsRegion struct {
	start int64
	end   int64
}

// document is the parsed structure of the revision being extended.
type document struct {
	info *fileInfo

	pageRef    objRef
	pageKeys   []pdfKV
	pageAnnots []string

	catalogKeys []pdfKV
	pagesRef    string

	// existingFields are serialized references to the signature and
	// form fields already present in the AcroForm.
	existingFields []string
}

// pdfKV is a serialized dictionary entry carried over from the
// previous revision of an object.
type pdfKV struct {
	key   string
	value string
}

// inspect validates the input PDF and collects the structure needed to
// build the incremental update. Malformed documents are rejected here,
// before any placeholder is inserted.
func inspect(input []byte, fieldName string) (doc *document, err error) {
	// The underlying parser signals malformed structures by panicking.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrMalformedPDF, r)
		}
	}()

	rd, rerr := pdf.NewReader(bytes.NewReader(input), int64(len(input)))
	if rerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPDF, rerr)
	}
	if rd.NumPage() < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrMalformedPDF)
	}

	trailer := rd.Trailer()
	if !trailer.Key("Encrypt").IsNull() {
		return nil, fmt.Errorf("%w: encrypted documents are not supported", ErrSigningFailure)
	}

	info, err := readFileInfo(input)
	if err != nil {
		return nil, err
	}

	doc = &document{info: info}

	root := trailer.Key("Root")
	rootPtr := root.GetPtr()

	page := rd.Page(1)
	pagePtr := page.V.GetPtr()
	doc.pageRef = objRef{Num: int(pagePtr.GetID()), Gen: int(pagePtr.GetGen())}

	for _, key := range page.V.Keys() {
		if key == "Annots" {
			continue
		}
		doc.pageKeys = append(doc.pageKeys, pdfKV{key, serializeValue(page.V.Key(key), pagePtr)})
	}
	annots := page.V.Key("Annots")
	if !annots.IsNull() {
		annotsPtr := annots.GetPtr()
		for i := 0; i < annots.Len(); i++ {
			doc.pageAnnots = append(doc.pageAnnots, serializeValue(annots.Index(i), annotsPtr))
		}
	}

	doc.pagesRef = serializeValue(root.Key("Pages"), rootPtr)
	for _, key := range root.Keys() {
		if key == "AcroForm" || key == "Pages" {
			continue
		}
		doc.catalogKeys = append(doc.catalogKeys, pdfKV{key, serializeValue(root.Key(key), rootPtr)})
	}

	acro := root.Key("AcroForm")
	if !acro.IsNull() {
		acroPtr := acro.GetPtr()
		fields := acro.Key("Fields")
		for i := 0; i < fields.Len(); i++ {
			field := fields.Index(i)
			if name := field.Key("T"); !name.IsNull() && name.Text() == fieldName {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateField, fieldName)
			}
			doc.existingFields = append(doc.existingFields, serializeValue(field, acroPtr))
		}
	}

	return doc, nil
}

// appendRevision builds the incremental update: signature dictionary
// with reserved placeholder, widget annotation, re-issued page object,
// new catalog and a cross-reference section in the style of the
// previous revision.
func (e *Engine) appendRevision(input []byte, doc *document, opts Options, reserve int) ([]byte, contentsRegion, error) {
	var buf bytes.Buffer
	base := int64(len(input))
	if base > 0 && input[base-1] != '\n' && input[base-1] != '\r' {
		buf.WriteByte('\n')
	}

	sigNum := doc.info.Size
	widgetNum := sigNum + 1
	catalogNum := sigNum + 2

	abs := func() int64 { return base + int64(buf.Len()) }

	var entries []xrefEntry
	beginObj := func(ref objRef) {
		entries = append(entries, xrefEntry{ref: ref, offset: abs()})
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	}
	endObj := func() { buf.WriteString("\nendobj\n") }

	// Signature dictionary. The Contents placeholder and the ByteRange
	// slots are patched once the final layout is known.
	beginObj(objRef{Num: sigNum})
	buf.WriteString("<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached")
	if opts.Name != "" {
		buf.WriteString(" /Name " + literalString(opts.Name))
	}
	if opts.Reason != "" {
		buf.WriteString(" /Reason " + literalString(opts.Reason))
	}
	if opts.Location != "" {
		buf.WriteString(" /Location " + literalString(opts.Location))
	}
	if opts.ContactInfo != "" {
		buf.WriteString(" /ContactInfo " + literalString(opts.ContactInfo))
	}
	buf.WriteString(" /M " + literalString(formatPDFDate(e.now())))
	buf.WriteString(" /Contents ")
	region := contentsRegion{start: abs()}
	buf.WriteByte('<')
	buf.WriteString(strings.Repeat("0", reserve*2))
	buf.WriteByte('>')
	region.end = abs()
	buf.WriteString(" /ByteRange [0 ")
	brOffset := abs()
	for i := 0; i < 3; i++ {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(strings.Repeat("0", byteRangeSlotWidth))
	}
	buf.WriteString("] >>")
	endObj()

	sigRef := objRef{Num: sigNum}
	widgetRef := objRef{Num: widgetNum}

	// Invisible widget annotation carrying the signature field.
	beginObj(widgetRef)
	fmt.Fprintf(&buf,
		"<< /Type /Annot /Subtype /Widget /FT /Sig /Rect [0 0 0 0] /T %s /F 132 /P %s /V %s >>",
		literalString(opts.FieldName), doc.pageRef, sigRef)
	endObj()

	// Re-issued page object with the widget appended to /Annots.
	beginObj(doc.pageRef)
	buf.WriteString("<<")
	for _, kv := range doc.pageKeys {
		buf.WriteString(" /" + escapeName(kv.key) + " " + kv.value)
	}
	annots := append(append([]string(nil), doc.pageAnnots...), widgetRef.String())
	buf.WriteString(" /Annots [" + strings.Join(annots, " ") + "]")
	buf.WriteString(" >>")
	endObj()

	// New catalog pointing at the extended AcroForm.
	beginObj(objRef{Num: catalogNum})
	buf.WriteString("<< /Type /Catalog /Pages " + doc.pagesRef)
	for _, kv := range doc.catalogKeys {
		if kv.key == "Type" {
			continue
		}
		buf.WriteString(" /" + escapeName(kv.key) + " " + kv.value)
	}
	fields := append(append([]string(nil), doc.existingFields...), widgetRef.String())
	buf.WriteString(" /AcroForm << /Fields [" + strings.Join(fields, " ") + "] /SigFlags 3 >>")
	buf.WriteString(" >>")
	endObj()

	catalogRef := objRef{Num: catalogNum}
	if doc.info.XrefIsStream {
		writeXrefStream(&buf, abs, entries, doc.info, catalogRef)
	} else {
		writeXrefTable(&buf, abs, entries, doc.info, catalogRef)
	}

	out := make([]byte, 0, len(input)+buf.Len())
	out = append(out, input...)
	out = append(out, buf.Bytes()...)

	patchByteRange(out, brOffset, region)
	return out, region, nil
}

// patchByteRange fills the three reserved ByteRange slots in place.
// Slot widths are fixed, so the patch never shifts later offsets.
func patchByteRange(out []byte, brOffset int64, region contentsRegion) {
	values := []int64{region.start, region.end, int64(len(out)) - region.end}
	pos := brOffset
	for i, v := range values {
		if i > 0 {
			pos++ // separating space
		}
		slot := fmt.Sprintf("%0*d", byteRangeSlotWidth, v)
		copy(out[pos:pos+byteRangeSlotWidth], slot)
		pos += byteRangeSlotWidth
	}
}

// spliceSignature hex-encodes the CMS object into the reserved region.
func spliceSignature(out []byte, region contentsRegion, der []byte) error {
	reserved := region.end - region.start - 2 // exclude < and >
	encoded := int64(hex.EncodedLen(len(der)))
	if encoded > reserved {
		return fmt.Errorf("%w: allocated %d bytes, but contents required %d bytes",
			ErrPlaceholderTooSmall, reserved, encoded)
	}
	hexSig := strings.ToUpper(hex.EncodeToString(der))
	copy(out[region.start+1:], hexSig)
	return nil
}

// xrefEntry records where an appended object landed in the output.
type xrefEntry struct {
	ref    objRef
	offset int64
}

// writeXrefTable emits a classic cross-reference table and trailer.
func writeXrefTable(buf *bytes.Buffer, abs func() int64, entries []xrefEntry, info *fileInfo, catalog objRef) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.Num < entries[j].ref.Num })

	xrefOffset := abs()
	buf.WriteString("xref\n")
	for start := 0; start < len(entries); {
		end := start + 1
		for end < len(entries) && entries[end].ref.Num == entries[end-1].ref.Num+1 {
			end++
		}
		fmt.Fprintf(buf, "%d %d\n", entries[start].ref.Num, end-start)
		for _, e := range entries[start:end] {
			fmt.Fprintf(buf, "%010d %05d n \n", e.offset, e.ref.Gen)
		}
		start = end
	}

	size := maxObjNum(entries, info.Size) + 1
	buf.WriteString("trailer\n")
	fmt.Fprintf(buf, "<< /Size %d /Root %s /Prev %d", size, catalog, info.StartXref)
	if info.Info != nil {
		fmt.Fprintf(buf, " /Info %s", *info.Info)
	}
	if len(info.IDRaw) > 0 {
		buf.WriteByte(' ')
		buf.Write(info.IDRaw)
	}
	buf.WriteString(" >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
}

// writeXrefStream emits a cross-reference stream revision, required
// when the previous revision used one. Rows are written unfiltered
// with field widths [1 4 2].
func writeXrefStream(buf *bytes.Buffer, abs func() int64, entries []xrefEntry, info *fileInfo, catalog objRef) {
	xrefNum := maxObjNum(entries, info.Size) + 1
	xrefOffset := abs()

	// The stream indexes itself; its own offset is known up front.
	entries = append(append([]xrefEntry(nil), entries...),
		xrefEntry{ref: objRef{Num: xrefNum}, offset: xrefOffset})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.Num < entries[j].ref.Num })

	var index strings.Builder
	var rows bytes.Buffer
	for start := 0; start < len(entries); {
		end := start + 1
		for end < len(entries) && entries[end].ref.Num == entries[end-1].ref.Num+1 {
			end++
		}
		fmt.Fprintf(&index, " %d %d", entries[start].ref.Num, end-start)
		for _, e := range entries[start:end] {
			row := make([]byte, 7)
			row[0] = 1 // in-use entry
			binary.BigEndian.PutUint32(row[1:5], uint32(e.offset))
			binary.BigEndian.PutUint16(row[5:7], uint16(e.ref.Gen))
			rows.Write(row)
		}
		start = end
	}

	size := xrefNum + 1
	fmt.Fprintf(buf, "%d 0 obj\n", xrefNum)
	fmt.Fprintf(buf, "<< /Type /XRef /Size %d /Root %s /Prev %d /W [1 4 2] /Index [%s] /Length %d",
		size, catalog, info.StartXref, strings.TrimSpace(index.String()), rows.Len())
	if info.Info != nil {
		fmt.Fprintf(buf, " /Info %s", *info.Info)
	}
	if len(info.IDRaw) > 0 {
		buf.WriteByte(' ')
		buf.Write(info.IDRaw)
	}
	buf.WriteString(" >>\nstream\n")
	buf.Write(rows.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
}

func maxObjNum(entries []xrefEntry, atLeast int) int {
	max := atLeast - 1
	for _, e := range entries {
		if e.ref.Num > max {
			max = e.ref.Num
		}
	}
	return max
}

// formatPDFDate renders a time as a PDF date string (D:YYYYMMDDHHmmSS).
func formatPDFDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%s%02d'%02d'",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		sign, offset/3600, (offset%3600)/60)
}
