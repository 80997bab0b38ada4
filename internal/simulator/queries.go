package simulator

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueryFile is the YAML query list format:
//
//	queries:
//	  - "What is 15 + 27?"
//	variations: 10
type QueryFile struct {
	Queries []string `yaml:"queries"`
	// Variations appends that many rounds of generated queries.
	Variations int `yaml:"variations"`
}

// LoadQueries reads a query file. A file with no queries and no variations
// is an error.
func LoadQueries(path string, rnd *rand.Rand) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("failed to parse query file: %w", err)
	}
	var out []string
	for _, q := range qf.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	out = append(out, Variations(qf.Variations, rnd)...)
	if len(out) == 0 {
		return nil, fmt.Errorf("query file %s has no queries", path)
	}
	return out, nil
}

// BaseQueries covers arithmetic, documents, web search, deliberate failures
// and multi-step work.
var BaseQueries = []string{
	"What is 15 + 27?",
	"Calculate the factorial of 5",
	"What is the square root of 144?",
	"Calculate 2 to the power of 10",

	"Search for information about cricket in the documents",
	"Extract text from the PDF files",
	"Find documents related to Tesla",

	"Search for the latest news about AI",
	"Find information about Python programming",
	"Search for machine learning tutorials",

	"Calculate the fibonacci sequence up to 10 numbers",
	"What is the weather like today?",
	"Find the population of New York City",
	"Calculate the area of a circle with radius 5",

	"Divide by zero",
	"Access a non-existent file",
	"Call an undefined function",
	"Calculate the square root of -1",

	"Calculate 5 factorial and then add 10 to the result",
	"Find the sum of first 10 natural numbers and multiply by 2",
	"Calculate the area of a rectangle with length 5 and width 3, then find its perimeter",

	"Analyze the content of the economic document",
	"Extract key points from the Tesla document",
	"Summarize the DLF document",

	"Search for AI news and calculate how many results were found",
	"Find documents about Tesla and count the total pages",
	"Calculate the average of numbers 1 to 10 and search for related information",
}

// DefaultQueries returns BaseQueries followed by rounds of generated
// variations.
func DefaultQueries(rounds int, rnd *rand.Rand) []string {
	out := append([]string{}, BaseQueries...)
	return append(out, Variations(rounds, rnd)...)
}

// Variations generates eight queries per round with random operands.
func Variations(rounds int, rnd *rand.Rand) []string {
	if rounds <= 0 {
		return nil
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	between := func(lo, hi int) int { return lo + rnd.Intn(hi-lo+1) }

	out := make([]string, 0, rounds*8)
	for i := 0; i < rounds; i++ {
		out = append(out,
			fmt.Sprintf("Calculate %d + %d", between(1, 100), between(1, 100)),
			fmt.Sprintf("Find the factorial of %d", between(1, 10)),
			fmt.Sprintf("Calculate %d to the power of %d", between(2, 20), between(2, 5)),
			fmt.Sprintf("Search for information about topic %d", i),
			fmt.Sprintf("Analyze document number %d", i),
			fmt.Sprintf("Calculate the area of a circle with radius %d", between(1, 20)),
			fmt.Sprintf("Find the sum of first %d natural numbers", between(5, 20)),
			fmt.Sprintf("Calculate fibonacci sequence up to %d numbers", between(5, 15)),
		)
	}
	return out
}
