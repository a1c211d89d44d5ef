// Package phrase generates human-shareable code phrases for advertising a
// transfer.
package phrase

import (
	"fmt"
	"math/rand"
	"strings"
)

var dictionary = []string{
	"accismus",
	"acumen",
	"aglet",
	"anachronism",
	"aphotic",
	"aplomb",
	"behove",
	"cacophony",
	"cryptic",
	"doppelganger",
	"draconian",
	"ephemeral",
	"fecund",
	"frivol",
	"gambit",
	"garrulous",
	"iconoclast",
	"impetus",
	"intrepid",
	"juggernaut",
	"juxtaposition",
	"kismet",
	"makebate",
	"mendacious",
	"mettle",
	"murmuration",
	"nastify",
	"nefarious",
	"overmorrow",
	"paragon",
	"pessimum",
	"petrichor",
	"platitude",
	"puerile",
	"redame",
	"riposte",
	"sanguine",
	"sarcast",
	"serendipity",
	"solivagant",
	"sonder",
	"syzygy",
	"tidbit",
	"vagabond",
	"yaffle",
	"zephyr",
}

// Generate returns wordCount dictionary words joined by dashes, followed by
// three random hex digits: "petrichor-zephyr-4af".
func Generate(wordCount int) string {
	var b strings.Builder
	for i := 0; i < wordCount; i++ {
		b.WriteString(dictionary[rand.Intn(len(dictionary))])
		b.WriteByte('-')
	}
	fmt.Fprintf(&b, "%x%x%x", rand.Intn(16), rand.Intn(16), rand.Intn(16))
	return b.String()
}
