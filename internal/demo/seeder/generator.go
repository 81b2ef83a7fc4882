package seeder

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type User struct {
	UserID     int64
	Name       string
	Email      string
	Country    string
	SignedUpAt time.Time
}

type Product struct {
	ProductID int64
	Name      string
	Category  string
	Price     float64
}

type Order struct {
	OrderID   int64
	UserID    int64
	ProductID int64
	Quantity  int
	Amount    float64
	Status    string
	OrderedAt time.Time
}

var (
	firstNames = []string{"Alex", "Casey", "Dana", "Eli", "Jordan", "Kai", "Lena", "Mika", "Noa", "Priya", "Sam", "Tariq"}
	lastNames  = []string{"Brandt", "Costa", "Dubois", "Fischer", "Iyer", "Janssen", "Kim", "Moreau", "Novak", "Okafor", "Silva", "Tanaka"}
	countries  = []string{"US", "DE", "GB", "IN", "JP", "BR"}

	productAdjectives = []string{"Compact", "Classic", "Deluxe", "Eco", "Portable", "Smart", "Sturdy", "Vintage"}
	productNouns      = []string{"Backpack", "Blender", "Desk Lamp", "Headphones", "Kettle", "Keyboard", "Monitor", "Notebook", "Speaker", "Water Bottle"}
	nounCategories    = map[string]string{
		"Backpack":     "outdoor",
		"Blender":      "kitchen",
		"Desk Lamp":    "home office",
		"Headphones":   "electronics",
		"Kettle":       "kitchen",
		"Keyboard":     "electronics",
		"Monitor":      "electronics",
		"Notebook":     "stationery",
		"Speaker":      "electronics",
		"Water Bottle": "outdoor",
	}

	orderStatuses = []string{"pending", "paid", "shipped", "cancelled"}
)

// Generator emits deterministic demo warehouse rows for a given seed.
type Generator struct {
	rnd        *rand.Rand
	userSeq    int64
	productSeq int64
	orderSeq   int64
	now        func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) NextUser() User {
	g.userSeq++
	first := pickOne(g.rnd, firstNames)
	last := pickOne(g.rnd, lastNames)
	return User{
		UserID:     g.userSeq,
		Name:       first + " " + last,
		Email:      fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), g.userSeq),
		Country:    pickOne(g.rnd, countries),
		SignedUpAt: g.now().AddDate(0, 0, -g.rnd.Intn(365)).Truncate(time.Second),
	}
}

func (g *Generator) NextProduct() Product {
	g.productSeq++
	noun := pickOne(g.rnd, productNouns)
	return Product{
		ProductID: g.productSeq,
		Name:      fmt.Sprintf("%s %s %d", pickOne(g.rnd, productAdjectives), noun, g.productSeq),
		Category:  nounCategories[noun],
		Price:     round2(5 + g.rnd.Float64()*295),
	}
}

// NextOrder references rows from the given slices, so both must be
// non-empty before the first call.
func (g *Generator) NextOrder(users []User, products []Product) Order {
	g.orderSeq++
	user := users[g.rnd.Intn(len(users))]
	product := products[g.rnd.Intn(len(products))]
	quantity := g.rnd.Intn(5) + 1
	return Order{
		OrderID:   g.orderSeq,
		UserID:    user.UserID,
		ProductID: product.ProductID,
		Quantity:  quantity,
		Amount:    round2(product.Price * float64(quantity)),
		Status:    g.pickStatus(),
		OrderedAt: g.now().Add(-time.Duration(g.rnd.Intn(90*24)) * time.Hour).Truncate(time.Second),
	}
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 10:
		return "pending"
	case p < 70:
		return "paid"
	case p < 95:
		return "shipped"
	default:
		return "cancelled"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
