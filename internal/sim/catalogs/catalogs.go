package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidRecipe = errors.New("invalid recipe")

type ProductKind string

const (
	KindItem     ProductKind = "item"
	KindBuilding ProductKind = "building"
)

type Product struct {
	Kind ProductKind `json:"kind" jsonschema:"enum=item,enum=building"`
	ID   string      `json:"id" jsonschema:"minLength=1"`
	Qty  uint32      `json:"qty" jsonschema:"minimum=1"`
}

type Ingredient struct {
	Kind ProductKind `json:"kind" jsonschema:"enum=item,enum=building"`
	ID   string      `json:"id" jsonschema:"minLength=1"`
	Qty  uint32      `json:"qty" jsonschema:"minimum=1"`
}

type RecipeDef struct {
	ID          string       `json:"id" jsonschema:"minLength=1"`
	Product     Product      `json:"product"`
	Ingredients []Ingredient `json:"ingredients"`
	Tools       []string     `json:"tools"`
	TimeMs      uint32       `json:"time_ms"`
	Tags        []string     `json:"tags,omitempty"`
	Flags       uint32       `json:"flags,omitempty"`
}

// RecipeFile is the on-disk shape of one recipes/*.json file.
type RecipeFile []RecipeDef

// RecipeID indexes a recipe in load order.
type RecipeID uint32

// Catalog indexes recipes by product. Recipe ids follow sorted file order, so
// the same directory always yields the same ids.
type Catalog struct {
	recipes   []RecipeDef
	byProduct map[string][]RecipeID
	Digest    string
}

func newCatalog() *Catalog {
	return &Catalog{byProduct: map[string][]RecipeID{}}
}

func (c *Catalog) insert(r RecipeDef) RecipeID {
	id := RecipeID(len(c.recipes))
	c.recipes = append(c.recipes, r)
	c.byProduct[r.Product.ID] = append(c.byProduct[r.Product.ID], id)
	return id
}

// Default is the built-in catalog: a house from one wood and one stone.
func Default() *Catalog {
	c := newCatalog()
	c.insert(RecipeDef{
		ID:      "house_basic",
		Product: Product{Kind: KindBuilding, ID: "house", Qty: 1},
		Ingredients: []Ingredient{
			{Kind: KindItem, ID: "wood", Qty: 1},
			{Kind: KindItem, ID: "stone", Qty: 1},
		},
		TimeMs: 0,
	})
	b, _ := json.Marshal(c.recipes)
	c.Digest = sha256Hex(b)
	return c
}

func (c *Catalog) Len() int { return len(c.recipes) }

func (c *Catalog) RecipesFor(productID string) []RecipeID { return c.byProduct[productID] }

func (c *Catalog) Get(id RecipeID) (RecipeDef, bool) {
	if int(id) >= len(c.recipes) {
		return RecipeDef{}, false
	}
	return c.recipes[id], true
}

// FirstFor picks the first recipe that produces productID.
func (c *Catalog) FirstFor(productID string) (RecipeDef, bool) {
	ids := c.RecipesFor(productID)
	if len(ids) == 0 {
		return RecipeDef{}, false
	}
	return c.Get(ids[0])
}

// Load reads every *.json file under dir (sorted by name). Each file is an
// array of recipes and is checked against Schema before decoding.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	c := newCatalog()
	seen := map[string]bool{}
	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("recipes %s: %w", filepath.Base(p), err)
		}
		if err := sch.Validate(doc); err != nil {
			return nil, fmt.Errorf("recipes %s: %w: %v", filepath.Base(p), ErrInvalidRecipe, err)
		}
		var defs RecipeFile
		if err := json.Unmarshal(b, &defs); err != nil {
			return nil, fmt.Errorf("recipes %s: %w", filepath.Base(p), err)
		}
		for _, r := range defs {
			if seen[r.ID] {
				return nil, fmt.Errorf("recipes %s: %w: duplicate id %q", filepath.Base(p), ErrInvalidRecipe, r.ID)
			}
			seen[r.ID] = true
			c.insert(r)
		}
	}
	c.Digest = sha256Hex(concat.Bytes())
	return c, nil
}

// Schema returns the JSON schema for a recipes file, generated from RecipeFile.
func Schema() ([]byte, error) {
	r := schemagen.Reflector{}
	s := r.Reflect(new(RecipeFile))
	s.Title = "anvil recipes"
	s.Description = "Array of recipe definitions loaded from the recipes directory"
	return json.MarshalIndent(s, "", "  ")
}

var (
	schemaOnce sync.Once
	schemaVal  *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := Schema()
		if err != nil {
			schemaErr = fmt.Errorf("recipe schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("recipes.schema.json", bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("recipe schema: %w", err)
			return
		}
		schemaVal, schemaErr = c.Compile("recipes.schema.json")
	})
	return schemaVal, schemaErr
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
