// Package tts synthesizes speech through external gpt-sovits or index-tts
// servers. Long texts are split into provider-sized chunks and the resulting
// WAV segments are stitched back into a single file.
package tts

import "strings"

// MaxChunkChars is the longest text a single synthesis request may carry.
const MaxChunkChars = 200

var sentenceEnders = []string{". ", "! ", "? ", "; ", "。", "！", "？", "；"}

// SplitText breaks text into chunks of at most MaxChunkChars runes, cutting
// on paragraph boundaries first, then sentence boundaries, then hard rune
// cuts for pathological unbroken runs.
func SplitText(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= MaxChunkChars {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, splitSentences(para)...)
	}
	return chunks
}

func splitSentences(text string) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitOnEnders(text) {
		runes := []rune(sentence)
		if len(runes) > MaxChunkChars {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, hardSplit(runes)...)
			continue
		}
		if len([]rune(current.String()))+len(runes) > MaxChunkChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(sentence)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func splitOnEnders(text string) []string {
	sentences := []string{text}
	for _, ender := range sentenceEnders {
		var next []string
		for _, s := range sentences {
			parts := strings.SplitAfter(s, ender)
			next = append(next, parts...)
		}
		sentences = next
	}

	var out []string
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func hardSplit(runes []rune) []string {
	var chunks []string
	for len(runes) > MaxChunkChars {
		chunks = append(chunks, string(runes[:MaxChunkChars]))
		runes = runes[MaxChunkChars:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
