package morse

import (
	"maps"
	"slices"
	"unicode"
)

var codes = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".", 'F': "..-.",
	'G': "--.", 'H': "....", 'I': "..", 'J': ".---", 'K': "-.-", 'L': ".-..",
	'M': "--", 'N': "-.", 'O': "---", 'P': ".--.", 'Q': "--.-", 'R': ".-.",
	'S': "...", 'T': "-", 'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-",
	'Y': "-.--", 'Z': "--..",

	// accented E, ITU
	'É': "..-..",

	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",

	// FCC code test punctuation and prosigns
	'.': ".-.-.-", ',': "--..--", '?': "..--..", '/': "-..-.",
	'+': ".-.-.",  // <AR>
	'=': "-...-",  // <BT>
	'*': "...-.-", // <SK>

	// other ITU punctuation
	':': "---...", '\'': ".----.", '-': "-....-", '(': "-.--.", ')': "-.--.-",
	'"': ".-..-.", '@': ".--.-.",

	// unofficial
	'$': "...-..-", ';': "-.-.-.", '_': "..--.-",
	'!': "-.-.--", // <KW>
	'&': ".-...",  // <AS>

	// prosigns without a character of their own
	'^': "...-.", // <VE>
	'#': "-.-.-", // <CT>
	'|': ".-.-",  // <AA>
	'%': "-.--.", // <KN>
}

// Lookup returns the dot-dash sequence for r. Letters match in either case.
func Lookup(r rune) (string, bool) {
	code, ok := codes[unicode.ToUpper(r)]
	return code, ok
}

// Characters returns every encodable character in code point order.
func Characters() []rune {
	return slices.Sorted(maps.Keys(codes))
}

// Prosigns maps the stand-in characters to the prosign they send.
var Prosigns = map[rune]string{
	'+': "AR", '=': "BT", '*': "SK", '!': "KW", '&': "AS",
	'^': "VE", '#': "CT", '|': "AA", '%': "KN",
}
