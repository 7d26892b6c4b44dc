package rank

import (
	"bufio"
	"os"
	"strings"
	"unicode"
)

// BERT-family special tokens.
const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
)

// wordPieceTokenizer is a minimal lowercasing WordPiece encoder, enough for
// MiniLM-style cross-encoders. Sub-word pieces after the first carry the
// "##" continuation prefix, matching the published vocab files.
type wordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

func newWordPieceTokenizer(vocabPath string) (*wordPieceTokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r\n")] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return &wordPieceTokenizer{
		vocab: vocab,
		cls:   vocab[clsToken],
		sep:   vocab[sepToken],
		unk:   vocab[unkToken],
	}, nil
}

// EncodePair builds the [CLS] a [SEP] b [SEP] sequence, truncating the second
// segment first so the query always survives. Returns token ids and segment
// ids of equal length, at most maxSeqLen.
func (t *wordPieceTokenizer) EncodePair(a, b string, maxSeqLen int) ([]int64, []int64) {
	idsA := t.encode(a)
	idsB := t.encode(b)

	// 3 specials: [CLS], two [SEP].
	budget := maxSeqLen - 3
	if budget < 0 {
		budget = 0
	}
	if len(idsA) > budget {
		idsA = idsA[:budget]
	}
	if len(idsA)+len(idsB) > budget {
		idsB = idsB[:budget-len(idsA)]
	}

	ids := make([]int64, 0, len(idsA)+len(idsB)+3)
	typeIDs := make([]int64, 0, cap(ids))

	ids = append(ids, t.cls)
	typeIDs = append(typeIDs, 0)
	for _, id := range idsA {
		ids = append(ids, id)
		typeIDs = append(typeIDs, 0)
	}
	ids = append(ids, t.sep)
	typeIDs = append(typeIDs, 0)
	for _, id := range idsB {
		ids = append(ids, id)
		typeIDs = append(typeIDs, 1)
	}
	ids = append(ids, t.sep)
	typeIDs = append(typeIDs, 1)

	return ids, typeIDs
}

func (t *wordPieceTokenizer) encode(text string) []int64 {
	var ids []int64
	for _, word := range basicTokenize(text) {
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// wordPiece splits one word greedily into the longest vocab matches.
func (t *wordPieceTokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	var pieces []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var id int64 = -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := t.vocab[piece]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int64{t.unk}
		}
		pieces = append(pieces, id)
		start = end
	}
	return pieces
}

// basicTokenize lowercases and splits on whitespace, breaking punctuation
// into standalone tokens the way BERT's basic tokenizer does.
func basicTokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
