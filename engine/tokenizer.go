package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daulet/tokenizers"
	"github.com/sirupsen/logrus"
)

// hfTokenizer wraps a HuggingFace tokenizer.json plus the special-token ids
// resolved from the surrounding checkpoint files.
type hfTokenizer struct {
	tk    *tokenizers.Tokenizer
	eosID int
	padID int
}

// LoadTokenizer loads tokenizer.json from a model directory and resolves the
// EOS and pad token ids from config.json / tokenizer_config.json. The pad
// token defaults to the EOS token when the checkpoint leaves it unset.
func LoadTokenizer(dir string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	t := &hfTokenizer{tk: tk, eosID: -1, padID: -1}
	t.loadSpecialTokens(dir)

	if t.padID < 0 {
		t.padID = t.eosID
	}

	logrus.WithFields(logrus.Fields{
		"dir": dir,
		"eos": t.eosID,
		"pad": t.padID,
	}).Debug("loaded tokenizer")

	return t, nil
}

// loadSpecialTokens resolves EOS/pad ids, preferring explicit ids from
// config.json and falling back to the token strings in
// tokenizer_config.json looked up against tokenizer.json's added tokens.
func (t *hfTokenizer) loadSpecialTokens(dir string) {
	if data, err := os.ReadFile(filepath.Join(dir, "config.json")); err == nil {
		var cfg struct {
			EOSTokenID *int `json:"eos_token_id"`
			PadTokenID *int `json:"pad_token_id"`
		}
		if json.Unmarshal(data, &cfg) == nil {
			if cfg.EOSTokenID != nil {
				t.eosID = *cfg.EOSTokenID
			}
			if cfg.PadTokenID != nil {
				t.padID = *cfg.PadTokenID
			}
		}
	}

	if t.eosID >= 0 && t.padID >= 0 {
		return
	}

	added := loadAddedTokens(dir)

	if data, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json")); err == nil {
		var cfg struct {
			EOSToken json.RawMessage `json:"eos_token"`
			PadToken json.RawMessage `json:"pad_token"`
		}
		if json.Unmarshal(data, &cfg) == nil {
			if t.eosID < 0 {
				if id, ok := added[tokenContent(cfg.EOSToken)]; ok {
					t.eosID = id
				}
			}
			if t.padID < 0 {
				if id, ok := added[tokenContent(cfg.PadToken)]; ok {
					t.padID = id
				}
			}
		}
	}
}

// loadAddedTokens reads the added-token table from tokenizer.json
func loadAddedTokens(dir string) map[string]int {
	added := make(map[string]int)

	data, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return added
	}

	var tokenizerJSON struct {
		AddedTokens []struct {
			ID      int    `json:"id"`
			Content string `json:"content"`
		} `json:"added_tokens"`
	}
	if json.Unmarshal(data, &tokenizerJSON) != nil {
		return added
	}

	for _, tok := range tokenizerJSON.AddedTokens {
		added[tok.Content] = tok.ID
	}
	return added
}

// tokenContent extracts the token string from a tokenizer_config entry,
// which may be a plain string or an added-token object.
func tokenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Content
	}
	return ""
}

func (t *hfTokenizer) Encode(text string) ([]int, error) {
	ids, _ := t.tk.Encode(text, false)
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

func (t *hfTokenizer) Decode(ids []int, keepSpecial bool) (string, error) {
	u32 := make([]uint32, len(ids))
	for i, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("negative token id %d", id)
		}
		u32[i] = uint32(id)
	}
	return t.tk.Decode(u32, !keepSpecial), nil
}

func (t *hfTokenizer) PadTokenID() int { return t.padID }
func (t *hfTokenizer) EOSTokenID() int { return t.eosID }

func (t *hfTokenizer) Close() error {
	t.tk.Close()
	return nil
}
