package rag

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

// whole utterances recognized as social
var socialPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true, "yo": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"how are you": true, "how are you doing": true, "how's it going": true, "what's up": true,
	"thanks": true, "thank you": true, "thank you so much": true, "thanks a lot": true,
	"many thanks": true, "much appreciated": true, "i appreciate it": true, "cheers": true,
	"sorry": true, "my bad": true, "apologies": true, "my apologies": true, "i'm sorry": true,
	"bye": true, "goodbye": true, "good bye": true, "see you": true, "see you later": true,
	"good night": true, "take care": true, "farewell": true,
	"ok": true, "okay": true, "great": true, "cool": true, "awesome": true, "perfect": true,
	"nice": true, "got it": true, "understood": true, "alright": true, "sounds good": true,
}

// words that may be combined into short social utterances such as "hi there, thanks!"
var socialWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "there": true, "thanks": true, "thank": true,
	"you": true, "so": true, "much": true, "very": true, "a": true, "lot": true,
	"ok": true, "okay": true, "bye": true, "goodbye": true, "sorry": true, "good": true,
	"morning": true, "afternoon": true, "evening": true, "night": true, "great": true,
	"cool": true, "awesome": true, "cheers": true, "see": true, "later": true, "again": true,
	"apologies": true, "my": true, "bad": true, "perfect": true, "nice": true, "got": true, "it": true, "all": true,
}

const maxSocialWords = 6

// IsSocial reports whether text is a greeting, thanks, apology, farewell or
// acknowledgement rather than a question about documents.
func IsSocial(text string) bool {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 || len(words) > maxSocialWords {
		return false
	}
	if socialPhrases[strings.Join(words, " ")] {
		return true
	}
	anchored := false
	for _, w := range words {
		if !socialWords[w] {
			return false
		}
		// at least one word must be social on its own
		anchored = anchored || socialPhrases[w]
	}
	return anchored
}
