package services

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	EnhanceTemperature = 0.3
	EnhanceMaxTokens   = 2000
)

var enhancePrompts = map[string]map[string]string{
	"formal": {
		"low":    "Haz este texto ligeramente más formal manteniendo su esencia.",
		"medium": "Transforma este texto a un tono profesional y formal.",
		"high":   "Convierte este texto en un lenguaje altamente formal y corporativo.",
	},
	"conciso": {
		"low":    "Reduce ligeramente este texto eliminando palabras innecesarias.",
		"medium": "Haz este texto más conciso y directo al punto.",
		"high":   "Condensa este texto al mínimo necesario manteniendo toda la información clave.",
	},
	"amable": {
		"low":    "Añade un toque más amigable a este texto.",
		"medium": "Haz este texto más cálido y cercano.",
		"high":   "Transforma este texto en extremadamente amigable y empático.",
	},
	"vendedor": {
		"low":    "Añade un ligero enfoque comercial a este texto.",
		"medium": "Haz este texto más persuasivo y orientado a ventas.",
		"high":   "Convierte este texto en altamente persuasivo con enfoque de ventas agresivo.",
	},
	"neutro": {
		"low":    "Haz este texto ligeramente más objetivo y neutro.",
		"medium": "Elimina sesgos y haz este texto completamente neutro.",
		"high":   "Transforma este texto en totalmente imparcial y objetivo.",
	},
}

// EnhanceStyles lists accepted style names.
var EnhanceStyles = []string{"formal", "conciso", "amable", "vendedor", "neutro"}

func ValidEnhanceStyle(style string) bool {
	_, ok := enhancePrompts[style]
	return ok
}

func IntensityLevel(intensity int) string {
	switch {
	case intensity <= 33:
		return "low"
	case intensity <= 66:
		return "medium"
	default:
		return "high"
	}
}

func BuildEnhancementPrompt(original, style string, intensity int) string {
	base := enhancePrompts[style][IntensityLevel(intensity)]
	return base + "\n\nTexto original:\n\"" + original + "\"\n\n" +
		"Instrucciones:\n" +
		"- Mantén el significado y la información principal\n" +
		"- Devuelve solo el texto mejorado, sin explicaciones\n" +
		"- Conserva el idioma original (español)\n" +
		"- Ajusta la intensidad del cambio según se solicita\n\n" +
		"Texto mejorado:"
}

type CountChange struct {
	Added         int `json:"added"`
	OriginalCount int `json:"original_count"`
	EnhancedCount int `json:"enhanced_count"`
}

type TextDiff struct {
	WordChanges CountChange `json:"word_changes"`
	CharChanges CountChange `json:"char_changes"`
}

func CalculateTextDiff(original, enhanced string) TextDiff {
	ow, ew := len(strings.Fields(original)), len(strings.Fields(enhanced))
	oc, ec := utf8.RuneCountInString(original), utf8.RuneCountInString(enhanced)
	return TextDiff{
		WordChanges: CountChange{Added: ew - ow, OriginalCount: ow, EnhancedCount: ew},
		CharChanges: CountChange{Added: ec - oc, OriginalCount: oc, EnhancedCount: ec},
	}
}

type TextMetrics struct {
	Readability struct {
		OriginalAvgSentenceLength float64 `json:"original_avg_sentence_length"`
		EnhancedAvgSentenceLength float64 `json:"enhanced_avg_sentence_length"`
	} `json:"readability"`
	Structure struct {
		OriginalSentences int `json:"original_sentences"`
		EnhancedSentences int `json:"enhanced_sentences"`
		SentenceChange    int `json:"sentence_change"`
	} `json:"structure"`
	Complexity struct {
		OriginalAvgWordLength float64 `json:"original_avg_word_length"`
		EnhancedAvgWordLength float64 `json:"enhanced_avg_word_length"`
	} `json:"complexity"`
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

func countSentences(s string) int {
	n := 0
	for _, part := range sentenceSplit.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func avgWordLength(s string) float64 {
	words := strings.Fields(s)
	letters := 0
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
	}
	return ratio(letters, len(words))
}

func CalculateTextMetrics(original, enhanced string) TextMetrics {
	var m TextMetrics
	os, es := countSentences(original), countSentences(enhanced)
	m.Readability.OriginalAvgSentenceLength = ratio(utf8.RuneCountInString(original), os)
	m.Readability.EnhancedAvgSentenceLength = ratio(utf8.RuneCountInString(enhanced), es)
	m.Structure.OriginalSentences = os
	m.Structure.EnhancedSentences = es
	m.Structure.SentenceChange = es - os
	m.Complexity.OriginalAvgWordLength = avgWordLength(original)
	m.Complexity.EnhancedAvgWordLength = avgWordLength(enhanced)
	return m
}
