package analyzer

import (
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"nexqa/internal/port"
)

// TiktokenCounter counts tokens with a BPE encoding such as cl100k_base.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter loads the named encoding. When it cannot be loaded, for
// example because the BPE ranks are not cached and the network is down, the
// word heuristic of Tokenizer is returned instead.
func NewTokenCounter(encoding string, logger *zap.Logger) port.TokenCounter {
	if encoding != "" {
		enc, err := tiktoken.GetEncoding(encoding)
		if err == nil {
			return &TiktokenCounter{enc: enc}
		}
		if logger != nil {
			logger.Warn("token encoding unavailable, using word heuristic",
				zap.String("encoding", encoding),
				zap.Error(err))
		}
	}
	return NewTokenizer()
}
