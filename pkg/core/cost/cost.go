// Package cost maps raw usage counts (tokens, seconds, characters) to USD.
//
// All functions are pure. Negative or non-finite inputs are clamped to zero,
// so every figure in a Record is non-negative and TotalCost is always the
// sum of the three component costs.
package cost

import (
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Rates are published prices in USD.
type Rates struct {
	LLMInputPerMillionTokens  float64 `json:"llm_input_per_million_tokens" yaml:"llm_input_per_million_tokens"`
	LLMOutputPerMillionTokens float64 `json:"llm_output_per_million_tokens" yaml:"llm_output_per_million_tokens"`
	TranscriptionPerHour      float64 `json:"transcription_per_hour" yaml:"transcription_per_hour"`
	SynthesisPerMillionChars  float64 `json:"synthesis_per_million_chars" yaml:"synthesis_per_million_chars"`
}

// DefaultRates are the Gemini 1.5 Flash, Whisper and OpenAI tts-1 list prices.
var DefaultRates = Rates{
	LLMInputPerMillionTokens:  1.25,
	LLMOutputPerMillionTokens: 5.00,
	TranscriptionPerHour:      0.111,
	SynthesisPerMillionChars:  15.00,
}

var (
	million        = decimal.NewFromInt(1_000_000)
	secondsPerHour = decimal.NewFromInt(3600)
)

// LLM is the generation cost of one turn.
type LLM struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// Transcription is the speech-to-text cost of one turn.
type Transcription struct {
	Hours float64
	Cost  float64
}

// Synthesis is the text-to-speech cost of one turn.
type Synthesis struct {
	Characters int64
	Cost       float64
}

// Record is the per-turn cost breakdown reported to callers in X-Cost-Data.
type Record struct {
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	InputCost     float64 `json:"inputCost"`
	OutputCost    float64 `json:"outputCost"`
	TotalLLMCost  float64 `json:"totalLLMCost"`
	SpeechSeconds float64 `json:"speechSeconds"`
	SpeechCost    float64 `json:"speechCost"`
	TTSCharacters int64   `json:"ttsCharacters"`
	TTSCost       float64 `json:"ttsCost"`
	TotalCost     float64 `json:"totalCost"`
}

// Add returns the field-wise sum of r and o. It is used to keep a running
// total across turns.
func (r Record) Add(o Record) Record {
	return Record{
		InputTokens:   r.InputTokens + o.InputTokens,
		OutputTokens:  r.OutputTokens + o.OutputTokens,
		InputCost:     r.InputCost + o.InputCost,
		OutputCost:    r.OutputCost + o.OutputCost,
		TotalLLMCost:  r.TotalLLMCost + o.TotalLLMCost,
		SpeechSeconds: r.SpeechSeconds + o.SpeechSeconds,
		SpeechCost:    r.SpeechCost + o.SpeechCost,
		TTSCharacters: r.TTSCharacters + o.TTSCharacters,
		TTSCost:       r.TTSCost + o.TTSCost,
		TotalCost:     r.TotalCost + o.TotalCost,
	}
}

// Calculator prices usage with a fixed set of rates.
type Calculator struct {
	rates Rates
}

// NewCalculator returns a Calculator for rates. Negative rates are treated as zero.
func NewCalculator(rates Rates) Calculator {
	return Calculator{rates: Rates{
		LLMInputPerMillionTokens:  clampFloat(rates.LLMInputPerMillionTokens),
		LLMOutputPerMillionTokens: clampFloat(rates.LLMOutputPerMillionTokens),
		TranscriptionPerHour:      clampFloat(rates.TranscriptionPerHour),
		SynthesisPerMillionChars:  clampFloat(rates.SynthesisPerMillionChars),
	}}
}

// Rates returns the calculator's rates.
func (c Calculator) Rates() Rates { return c.rates }

// LLMCost prices input and output tokens.
func (c Calculator) LLMCost(inputTokens, outputTokens int64) LLM {
	in := perMillion(clampInt(inputTokens), c.rates.LLMInputPerMillionTokens)
	out := perMillion(clampInt(outputTokens), c.rates.LLMOutputPerMillionTokens)
	return LLM{
		InputCost:  in.InexactFloat64(),
		OutputCost: out.InexactFloat64(),
		TotalCost:  in.Add(out).InexactFloat64(),
	}
}

// TranscriptionCost prices seconds of transcribed audio.
func (c Calculator) TranscriptionCost(durationSeconds float64) Transcription {
	hours := decimal.NewFromFloat(clampFloat(durationSeconds)).Div(secondsPerHour)
	return Transcription{
		Hours: hours.InexactFloat64(),
		Cost:  hours.Mul(decimal.NewFromFloat(c.rates.TranscriptionPerHour)).InexactFloat64(),
	}
}

// SynthesisCost prices synthesized characters.
func (c Calculator) SynthesisCost(characters int64) Synthesis {
	chars := clampInt(characters)
	return Synthesis{
		Characters: chars,
		Cost:       perMillion(chars, c.rates.SynthesisPerMillionChars).InexactFloat64(),
	}
}

// Compute builds the full Record for one turn. replyText is the exact text
// sent to synthesis; it is priced per Unicode code point.
func (c Calculator) Compute(inputTokens, outputTokens int64, speechSeconds float64, replyText string) Record {
	llm := c.LLMCost(inputTokens, outputTokens)
	stt := c.TranscriptionCost(speechSeconds)
	tts := c.SynthesisCost(int64(utf8.RuneCountInString(replyText)))

	return Record{
		InputTokens:   clampInt(inputTokens),
		OutputTokens:  clampInt(outputTokens),
		InputCost:     llm.InputCost,
		OutputCost:    llm.OutputCost,
		TotalLLMCost:  llm.TotalCost,
		SpeechSeconds: clampFloat(speechSeconds),
		SpeechCost:    stt.Cost,
		TTSCharacters: tts.Characters,
		TTSCost:       tts.Cost,
		TotalCost:     Combine(llm.TotalCost, stt.Cost, tts.Cost),
	}
}

var defaultCalculator = NewCalculator(DefaultRates)

// LLMCost prices tokens with DefaultRates.
func LLMCost(inputTokens, outputTokens int64) LLM {
	return defaultCalculator.LLMCost(inputTokens, outputTokens)
}

// TranscriptionCost prices audio seconds with DefaultRates.
func TranscriptionCost(durationSeconds float64) Transcription {
	return defaultCalculator.TranscriptionCost(durationSeconds)
}

// SynthesisCost prices characters with DefaultRates.
func SynthesisCost(characters int64) Synthesis {
	return defaultCalculator.SynthesisCost(characters)
}

// Compute builds a Record with DefaultRates.
func Compute(inputTokens, outputTokens int64, speechSeconds float64, replyText string) Record {
	return defaultCalculator.Compute(inputTokens, outputTokens, speechSeconds, replyText)
}

// Combine sums the three component costs.
func Combine(llmCost, transcriptionCost, synthesisCost float64) float64 {
	return decimal.NewFromFloat(clampFloat(llmCost)).
		Add(decimal.NewFromFloat(clampFloat(transcriptionCost))).
		Add(decimal.NewFromFloat(clampFloat(synthesisCost))).
		InexactFloat64()
}

func perMillion(units int64, rate float64) decimal.Decimal {
	return decimal.NewFromInt(units).Div(million).Mul(decimal.NewFromFloat(rate))
}

func clampInt(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func clampFloat(f float64) float64 {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
