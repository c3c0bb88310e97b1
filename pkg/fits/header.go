// Package fits implements the subset of the FITS image container format
// needed to assemble image cubes: parsing and serializing primary headers,
// metadata-only opens, reading full pixel arrays, creating pre-sized output
// files, and writing pixel slices at multi-dimensional offsets.
//
// FITS stores the header as a sequence of 80-character keyword cards packed
// into 2880-byte blocks, followed by big-endian pixel data padded to the same
// block size. Only the primary HDU is handled; extensions are out of scope.
package fits

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockSize is the FITS record length in bytes. Headers and data regions are
// always padded to a multiple of this size.
const BlockSize = 2880

// cardLength is the fixed length of a single header card.
const cardLength = 80

// Card is a single header entry. Value is one of bool, int64, float64 or
// string, or nil for commentary cards (COMMENT, HISTORY, blank keyword).
type Card struct {
	Keyword string
	Value   interface{}
	Comment string
}

// Header is an ordered collection of cards. Order is preserved on
// serialization; keyword lookup returns the first matching card.
type Header struct {
	cards []Card
}

// NewHeader returns a minimal primary header for an image of the given
// bits-per-pixel code and shape. Shape is given with the fastest-varying
// axis first, matching the NAXIS1..NAXISn convention.
func NewHeader(bitpix int, shape []int) *Header {
	h := &Header{}
	h.SetBool("SIMPLE", true, "conforms to FITS standard")
	h.SetInt("BITPIX", int64(bitpix), "array data type")
	h.SetInt("NAXIS", int64(len(shape)), "number of array dimensions")
	for i, n := range shape {
		h.SetInt(fmt.Sprintf("NAXIS%d", i+1), int64(n), "")
	}
	return h
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	out := &Header{cards: make([]Card, len(h.cards))}
	copy(out.cards, h.cards)
	return out
}

// Cards returns the cards in order. The returned slice must not be modified.
func (h *Header) Cards() []Card {
	return h.cards
}

// Get returns the first card with the given keyword.
func (h *Header) Get(keyword string) (Card, bool) {
	for _, c := range h.cards {
		if c.Keyword == keyword {
			return c, true
		}
	}
	return Card{}, false
}

// Has reports whether the header contains the keyword.
func (h *Header) Has(keyword string) bool {
	_, ok := h.Get(keyword)
	return ok
}

// Delete removes every card with the given keyword.
func (h *Header) Delete(keyword string) {
	kept := h.cards[:0]
	for _, c := range h.cards {
		if c.Keyword != keyword {
			kept = append(kept, c)
		}
	}
	h.cards = kept
}

// set replaces the value of an existing card in place, or appends a new one.
// Replacing in place keeps the mandatory-keyword ordering of the original
// header when deriving an output header from an input one.
func (h *Header) set(keyword string, value interface{}, comment string) {
	for i := range h.cards {
		if h.cards[i].Keyword == keyword {
			h.cards[i].Value = value
			if comment != "" {
				h.cards[i].Comment = comment
			}
			return
		}
	}
	h.cards = append(h.cards, Card{Keyword: keyword, Value: value, Comment: comment})
}

// SetInt sets an integer-valued card.
func (h *Header) SetInt(keyword string, value int64, comment string) {
	h.set(keyword, value, comment)
}

// SetFloat sets a floating-point card.
func (h *Header) SetFloat(keyword string, value float64, comment string) {
	h.set(keyword, value, comment)
}

// SetString sets a string-valued card.
func (h *Header) SetString(keyword string, value string, comment string) {
	h.set(keyword, value, comment)
}

// SetBool sets a logical card.
func (h *Header) SetBool(keyword string, value bool, comment string) {
	h.set(keyword, value, comment)
}

// AddComment appends a COMMENT card.
func (h *Header) AddComment(text string) {
	h.cards = append(h.cards, Card{Keyword: "COMMENT", Comment: text})
}

// Int returns the keyword's value as an integer.
func (h *Header) Int(keyword string) (int64, error) {
	c, ok := h.Get(keyword)
	if !ok {
		return 0, fmt.Errorf("keyword %s not present", keyword)
	}
	switch v := c.Value.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("keyword %s is not numeric", keyword)
}

// Float returns the keyword's value as a float. Integer cards are widened,
// since FITS writers are inconsistent about the representation of whole
// numbers in WCS keywords.
func (h *Header) Float(keyword string) (float64, error) {
	c, ok := h.Get(keyword)
	if !ok {
		return 0, fmt.Errorf("keyword %s not present", keyword)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("keyword %s is not numeric", keyword)
}

// Str returns the keyword's value as a string.
func (h *Header) Str(keyword string) (string, error) {
	c, ok := h.Get(keyword)
	if !ok {
		return "", fmt.Errorf("keyword %s not present", keyword)
	}
	if s, ok := c.Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("keyword %s is not a string", keyword)
}

// FloatOr returns the keyword's value or a fallback when absent.
func (h *Header) FloatOr(keyword string, fallback float64) float64 {
	v, err := h.Float(keyword)
	if err != nil {
		return fallback
	}
	return v
}

// StrOr returns the keyword's value or a fallback when absent.
func (h *Header) StrOr(keyword string, fallback string) string {
	v, err := h.Str(keyword)
	if err != nil {
		return fallback
	}
	return v
}

// Bitpix returns the BITPIX code.
func (h *Header) Bitpix() (int, error) {
	v, err := h.Int("BITPIX")
	return int(v), err
}

// Shape returns the array dimensions NAXIS1..NAXISn, fastest-varying first.
func (h *Header) Shape() ([]int, error) {
	n, err := h.Int("NAXIS")
	if err != nil {
		return nil, err
	}
	// The standard caps NAXIS at 999.
	if n < 0 || n > 999 {
		return nil, fmt.Errorf("NAXIS is %d, want 0 to 999", n)
	}
	shape := make([]int, n)
	for i := range shape {
		v, err := h.Int(fmt.Sprintf("NAXIS%d", i+1))
		if err != nil {
			return nil, err
		}
		if v < 1 {
			return nil, fmt.Errorf("NAXIS%d is %d, want >= 1", i+1, v)
		}
		shape[i] = int(v)
	}
	return shape, nil
}

// SetShape rewrites NAXIS and the NAXISn cards for a new shape, removing any
// stale higher-numbered axis cards left over from the previous shape.
func (h *Header) SetShape(shape []int) {
	old, _ := h.Int("NAXIS")
	h.SetInt("NAXIS", int64(len(shape)), "number of array dimensions")
	for i, n := range shape {
		h.SetInt(fmt.Sprintf("NAXIS%d", i+1), int64(n), "")
	}
	for i := len(shape) + 1; i <= int(old); i++ {
		h.Delete(fmt.Sprintf("NAXIS%d", i))
	}
}

// bytesPerValue maps a BITPIX code to the byte width of one pixel value.
func bytesPerValue(bitpix int) (int, error) {
	switch bitpix {
	case 8:
		return 1, nil
	case 16:
		return 2, nil
	case 32, -32:
		return 4, nil
	case 64, -64:
		return 8, nil
	}
	return 0, fmt.Errorf("BITPIX value %d not recognized", bitpix)
}

// padTo rounds n up to the next multiple of BlockSize.
func padTo(n int64) int64 {
	return ((n + BlockSize - 1) / BlockSize) * BlockSize
}

// ParseHeader decodes a serialized primary header. The input must contain
// whole 2880-byte blocks up to and including the one holding the END card.
func ParseHeader(raw []byte) (*Header, error) {
	h := &Header{}
	for off := 0; off+cardLength <= len(raw); off += cardLength {
		line := string(raw[off : off+cardLength])
		keyword := strings.TrimRight(line[:8], " ")
		if keyword == "END" {
			return h, nil
		}
		card, err := parseCard(keyword, line)
		if err != nil {
			return nil, err
		}
		h.cards = append(h.cards, card)
	}
	return nil, fmt.Errorf("header has no END card")
}

func parseCard(keyword, line string) (Card, error) {
	// Commentary cards and blank keywords carry free text, no value.
	if keyword == "COMMENT" || keyword == "HISTORY" || keyword == "" || line[8:10] != "= " {
		return Card{Keyword: keyword, Comment: strings.TrimRight(line[8:], " ")}, nil
	}
	rest := line[10:]
	trimmed := strings.TrimLeft(rest, " ")
	if strings.HasPrefix(trimmed, "'") {
		return parseStringCard(keyword, trimmed)
	}
	value := trimmed
	comment := ""
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		value = strings.TrimRight(trimmed[:i], " ")
		comment = strings.TrimSpace(trimmed[i+1:])
	}
	value = strings.TrimSpace(value)
	card := Card{Keyword: keyword, Comment: comment}
	switch {
	case value == "T":
		card.Value = true
	case value == "F":
		card.Value = false
	case value == "":
		// Undefined value; keep as commentary-style card.
	case strings.ContainsAny(value, ".EeDd"):
		// Fortran-style exponents use D where Go expects E.
		f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(value), 64)
		if err != nil {
			return Card{}, fmt.Errorf("card %s: bad value %q: %v", keyword, value, err)
		}
		card.Value = f
	default:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Card{}, fmt.Errorf("card %s: bad value %q: %v", keyword, value, err)
		}
		card.Value = i
	}
	return card, nil
}

func parseStringCard(keyword, trimmed string) (Card, error) {
	// Quoted string; '' inside is an escaped quote.
	var sb strings.Builder
	i := 1
	for i < len(trimmed) {
		if trimmed[i] == '\'' {
			if i+1 < len(trimmed) && trimmed[i+1] == '\'' {
				sb.WriteByte('\'')
				i += 2
				continue
			}
			break
		}
		sb.WriteByte(trimmed[i])
		i++
	}
	if i >= len(trimmed) {
		return Card{}, fmt.Errorf("card %s: unterminated string", keyword)
	}
	comment := ""
	if j := strings.IndexByte(trimmed[i+1:], '/'); j >= 0 {
		comment = strings.TrimSpace(trimmed[i+1+j+1:])
	}
	return Card{Keyword: keyword, Value: strings.TrimRight(sb.String(), " "), Comment: comment}, nil
}

// Serialize encodes the header as FITS cards, appends the END card, and pads
// the result with spaces to a whole number of blocks.
func (h *Header) Serialize() []byte {
	var sb strings.Builder
	for _, c := range h.cards {
		sb.WriteString(formatCard(c))
	}
	sb.WriteString(padCard("END"))
	raw := []byte(sb.String())
	padded := make([]byte, padTo(int64(len(raw))))
	copy(padded, raw)
	for i := len(raw); i < len(padded); i++ {
		padded[i] = ' '
	}
	return padded
}

func formatCard(c Card) string {
	keyword := c.Keyword
	// Keywords occupy a fixed 8-character field; longer names would shift
	// the value indicator and corrupt the card.
	if len(keyword) > 8 {
		keyword = keyword[:8]
	}
	if c.Value == nil {
		return padCard(fmt.Sprintf("%-8s%s", keyword, c.Comment))
	}
	var value string
	switch v := c.Value.(type) {
	case bool:
		s := "F"
		if v {
			s = "T"
		}
		value = fmt.Sprintf("%20s", s)
	case int64:
		value = fmt.Sprintf("%20d", v)
	case float64:
		value = fmt.Sprintf("%20s", strconv.FormatFloat(v, 'E', -1, 64))
	case string:
		quoted := "'" + strings.ReplaceAll(v, "'", "''") + "'"
		value = fmt.Sprintf("%-20s", quoted)
	}
	line := fmt.Sprintf("%-8s= %s", keyword, value)
	if c.Comment != "" {
		line += " / " + c.Comment
	}
	return padCard(line)
}

// padCard pads or truncates a line to the 80-character card length.
func padCard(line string) string {
	if len(line) > cardLength {
		return line[:cardLength]
	}
	return line + strings.Repeat(" ", cardLength-len(line))
}
