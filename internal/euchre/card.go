package euchre

import (
	"fmt"
	"math/rand"
	"strings"
)

// Suit is one of the four French suits.
type Suit string

const (
	Clubs    Suit = "clubs"
	Diamonds Suit = "diamonds"
	Hearts   Suit = "hearts"
	Spades   Suit = "spades"
)

// Rank is a euchre rank: the 24-card deck runs 9 through ace.
type Rank string

const (
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

var suits = []Suit{Clubs, Diamonds, Hearts, Spades}
var ranks = []Rank{Nine, Ten, Jack, Queen, King, Ace}

// Card is a single playing card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

// ID returns the canonical "suit:rank" identifier.
func (c Card) ID() string {
	return string(c.Suit) + ":" + string(c.Rank)
}

// ParseCardID parses a canonical "suit:rank" identifier.
func ParseCardID(id string) (Card, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return Card{}, fmt.Errorf("malformed card id %q", id)
	}
	c := Card{Suit: Suit(parts[0]), Rank: Rank(parts[1])}
	if !c.Valid() {
		return Card{}, fmt.Errorf("unknown card id %q", id)
	}
	return c, nil
}

// Valid reports whether the card belongs to the euchre deck.
func (c Card) Valid() bool {
	switch c.Suit {
	case Clubs, Diamonds, Hearts, Spades:
	default:
		return false
	}
	switch c.Rank {
	case Nine, Ten, Jack, Queen, King, Ace:
	default:
		return false
	}
	return true
}

// Deck returns the canonical 24-card deck in suit-then-rank order.
func Deck() []Card {
	deck := make([]Card, 0, 24)
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card{Suit: s, Rank: r})
		}
	}
	return deck
}

// ShuffledDeck returns a fresh deck shuffled with the given source.
func ShuffledDeck(rng *rand.Rand) []Card {
	deck := Deck()
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}

// SameColor reports whether two suits share a color.
func SameColor(a, b Suit) bool {
	red := func(s Suit) bool { return s == Hearts || s == Diamonds }
	return red(a) == red(b)
}

// LeftBowerSuit returns the suit whose jack acts as the left bower for trump.
func LeftBowerSuit(trump Suit) Suit {
	switch trump {
	case Clubs:
		return Spades
	case Spades:
		return Clubs
	case Hearts:
		return Diamonds
	case Diamonds:
		return Hearts
	}
	return trump
}

// EffectiveSuit is the suit a card follows as: the left bower counts as trump.
func EffectiveSuit(c Card, trump Suit) Suit {
	if trump != "" && c.Rank == Jack && c.Suit == LeftBowerSuit(trump) {
		return trump
	}
	return c.Suit
}

// trickValue ranks a card inside a trick. Higher wins. Cards that are
// neither trump nor of the led effective suit cannot win and score zero.
func trickValue(c Card, trump, led Suit) int {
	if trump != "" && EffectiveSuit(c, trump) == trump {
		if c.Rank == Jack {
			if c.Suit == trump {
				return 407 // right bower
			}
			return 406 // left bower
		}
		return 400 + rankOrder(c.Rank)
	}
	if c.Suit == led {
		return 100 + rankOrder(c.Rank)
	}
	return 0
}

func rankOrder(r Rank) int {
	switch r {
	case Nine:
		return 1
	case Ten:
		return 2
	case Jack:
		return 3
	case Queen:
		return 4
	case King:
		return 5
	case Ace:
		return 6
	}
	return 0
}
