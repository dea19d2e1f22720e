package predict

// Built-in vocabulary: common English words ranked by frequency, word pairs
// for next-word prediction, and phrases for everyday care communication.

var builtinFrequencies = map[string]int{
	"the": 100, "be": 99, "to": 98, "of": 97, "and": 96, "a": 95, "in": 94, "that": 93,
	"have": 92, "i": 91, "it": 90, "for": 89, "not": 88, "on": 87, "with": 86, "he": 85,
	"as": 84, "you": 83, "do": 82, "at": 81, "this": 80, "but": 79, "his": 78, "by": 77,
	"from": 76, "they": 75, "we": 74, "say": 73, "her": 72, "she": 71, "or": 70,
	"an": 69, "will": 68, "my": 67, "one": 66, "all": 65, "would": 64, "there": 63,
	"their": 62, "what": 61, "so": 60, "up": 59, "out": 58, "if": 57, "about": 56,
	"who": 55, "get": 54, "which": 53, "go": 52, "me": 51, "when": 50, "make": 49,
	"can": 48, "like": 47, "time": 46, "no": 45, "just": 44, "him": 43, "know": 42,
	"take": 41, "people": 40, "into": 39, "year": 38, "your": 37, "good": 36,
	"some": 35, "could": 34, "them": 33, "see": 32, "other": 31, "than": 30,
	"then": 29, "now": 28, "look": 27, "only": 26, "come": 25, "its": 24,
	"over": 23, "think": 22, "also": 21, "back": 20, "after": 19, "use": 18,
	"two": 17, "how": 16, "our": 15, "work": 14, "first": 13, "well": 12,
	"way": 11, "even": 10, "new": 9, "want": 8, "because": 7, "any": 6,
	"these": 5, "give": 4, "day": 3, "most": 2, "us": 1,
}

var builtinNextWords = map[string][]string{
	"i":      {"am", "will", "have", "can", "need", "want", "think", "know"},
	"would":  {"like", "you", "be", "have", "need"},
	"thank":  {"you", "him", "her", "them"},
	"can":    {"you", "i", "we", "they", "help"},
	"please": {"help", "bring", "take", "give", "let", "allow"},
	"need":   {"help", "to", "a", "some", "water", "rest"},
	"want":   {"to", "a", "some", "you", "help"},
	"how":    {"are", "is", "do", "did", "can", "would", "about"},
	"could":  {"you", "i", "we", "they", "help", "please"},
	"hello":  {"there", "everyone", "world"},
	"good":   {"morning", "afternoon", "evening", "night", "day", "job"},
	"feel":   {"like", "good", "bad", "sick", "tired", "happy"},
}

var builtinPhrases = []string{
	"I need help",
	"Can you help me",
	"I'm feeling tired",
	"I would like some water",
	"Please adjust my position",
	"Thank you for your help",
	"Can you call the nurse",
	"I need to use the bathroom",
	"I'm uncomfortable",
	"I'm feeling better today",
	"Can you turn on the TV",
	"I would like to rest now",
	"Please open the window",
	"It's too cold in here",
	"It's too hot in here",
	"I'm hungry",
	"I'm thirsty",
	"Good morning",
	"Good night",
	"I love you",
	"I miss you",
	"How are you today",
	"I need my medication",
}

// Builtin returns a copy of the built-in vocabulary.
func Builtin() *Vocabulary {
	v := &Vocabulary{
		WordFrequencies:     make(map[string]int, len(builtinFrequencies)),
		NextWordPredictions: make(map[string][]string, len(builtinNextWords)),
		Phrases:             append([]string(nil), builtinPhrases...),
	}
	for w, f := range builtinFrequencies {
		v.WordFrequencies[w] = f
	}
	for w, next := range builtinNextWords {
		v.NextWordPredictions[w] = append([]string(nil), next...)
	}
	return v
}
