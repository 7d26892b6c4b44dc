package rank

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxScorer runs a local cross-encoder (MiniLM-style) over query+passage
// pairs. The model takes int64 input_ids/attention_mask (and token_type_ids
// when present) and emits a single relevance logit per pair.
type onnxScorer struct {
	mu sync.Mutex

	modelPath string
	maxSeqLen int

	tokenizer   *wordPieceTokenizer
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// NewONNXScorer loads the vocab and ONNX session eagerly so a broken model
// path fails at init instead of on the first query.
func NewONNXScorer(modelPath, vocabPath, libPath string, maxSeqLen int) (Scorer, error) {
	if maxSeqLen <= 0 {
		maxSeqLen = 512
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx init environment: %w", err)
	}

	tok, err := newWordPieceTokenizer(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx model has no inputs or outputs")
	}

	inputNames := make([]string, len(inputs))
	for i := range inputs {
		inputNames[i] = inputs[i].Name
	}
	outputNames := make([]string, len(outputs))
	for i := range outputs {
		outputNames[i] = outputs[i].Name
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx new session: %w", err)
	}

	return &onnxScorer{
		modelPath:   modelPath,
		maxSeqLen:   maxSeqLen,
		tokenizer:   tok,
		session:     session,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func (s *onnxScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i, passage := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, err := s.scorePair(query, passage)
		if err != nil {
			return nil, fmt.Errorf("score pair %d: %w", i, err)
		}
		scores[i] = score
	}
	return scores, nil
}

func (s *onnxScorer) scorePair(query, passage string) (float64, error) {
	ids, typeIDs := s.tokenizer.EncodePair(query, passage, s.maxSeqLen)
	seqLen := int64(len(ids))
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, seqLen)
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return 0, fmt.Errorf("onnx input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attnMask, err := ort.NewTensor(shape, mask)
	if err != nil {
		return 0, fmt.Errorf("onnx attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	inputs := make([]ort.Value, 0, len(s.inputNames))
	for _, name := range s.inputNames {
		switch name {
		case "input_ids":
			inputs = append(inputs, inputIDs)
		case "attention_mask":
			inputs = append(inputs, attnMask)
		case "token_type_ids":
			t, err := ort.NewTensor(shape, typeIDs)
			if err != nil {
				return 0, fmt.Errorf("onnx token_type_ids tensor: %w", err)
			}
			defer t.Destroy()
			inputs = append(inputs, t)
		default:
			return 0, fmt.Errorf("unexpected model input %q", name)
		}
	}

	outputs := make([]ort.Value, len(s.outputNames))

	s.mu.Lock()
	err = s.session.Run(inputs, outputs)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	for _, out := range outputs {
		defer out.Destroy()
	}

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output tensor type")
	}
	data := logits.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty logits")
	}
	return float64(data[0]), nil
}
