package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"chick", "duckling", "fawn", "foal", "lamb", "calf", "porcupine", "raccoon", "skunk", "mole",
	"mouse", "rat", "ferret", "weasel", "beaver", "seahorse", "starfish", "dolphin", "whale", "narwhal",
	"penguin", "flamingo", "pelican", "swallow", "sparrow", "robin", "toucan", "parrot", "canary", "cockatoo",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
	"lasagna", "pizza", "burger", "salad", "soup", "stew", "dumpling", "noodle", "omelette", "quiche",
	"sandwich", "kebab", "shawarma", "fondue", "pierogi", "gnocchi", "falafel", "samosa", "poutine", "dimsum",
}

var names = []string{
	"alice", "bob", "charlie", "daisy", "ella", "finn", "grace", "henry", "isla", "jack",
	"kai", "luna", "mia", "noah", "olivia", "peter", "quinn", "rachel", "sam", "tina",
	"uma", "victor", "winnie", "xavier", "yara", "zoe", "aaron", "bella", "carlos", "diana",
}

var randomWords = []string{
	"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "whisker", "echo", "jelly",
	"marble", "maple", "cocoa", "hazel", "breeze", "meadow", "willow", "ember", "peppermint", "cinnamon",
	"poppy", "lucky", "pixel", "biscuit", "cupcake", "nugget", "crumb", "toffee", "sprinkle", "twig",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "blue", "red", "green", "bright", "gentle",
	"brave", "calm", "swift", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var extras = []string{
	"dragon", "unicorn", "griffin", "phoenix", "fairy", "gnome", "sprite", "pixie", "mermaid", "elf",
	"hobbit", "otterly", "purr", "meow", "woof", "chirp", "splash", "drizzle", "thimble", "button",
	"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
}

var wordLists = [][]string{animals, dishes, names, randomWords, adjectives, extras}

// newRoomName joins three words drawn from distinct lists, e.g.
// "sleepy-otter-ramen", retrying while taken reports the name in use.
func newRoomName(taken func(string) bool) string {
	for {
		lists := pickDistinct(len(wordLists), 3)
		words := make([]string, len(lists))
		for i, l := range lists {
			words[i] = wordLists[l][randomIndex(len(wordLists[l]))]
		}
		name := strings.Join(words, "-")
		if !taken(name) {
			return name
		}
	}
}

func pickDistinct(n, k int) []int {
	picked := make([]int, 0, k)
	seen := make(map[int]bool, k)
	for len(picked) < k {
		i := randomIndex(n)
		if !seen[i] {
			seen[i] = true
			picked = append(picked, i)
		}
	}
	return picked
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}
