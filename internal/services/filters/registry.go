package filters

// TagInfo is the display label of a tag and the normalized terms that
// attach it to a product.
type TagInfo struct {
	Label string   `json:"label"`
	Terms []string `json:"terms"`
}

type Tag struct {
	Code string
	TagInfo
}

// Group is a heading of the static registry. Group and tag order is the
// order filters are offered in.
type Group struct {
	Heading string
	Tags    []Tag
}

var staticGroups = []Group{
	{
		Heading: "Conservation",
		Tags: []Tag{
			{"frais", TagInfo{"Frais", []string{"frais", "fraiche"}}},
			{"surgele", TagInfo{"Surgelé", []string{"surgele", "congele", "surg"}}},
			{"sous_vide", TagInfo{"Sous vide", []string{"sous vide", "s vide"}}},
			{"conserve", TagInfo{"Conserve", []string{"conserve", "boite"}}},
		},
	},
	{
		Heading: "Viandes",
		Tags: []Tag{
			{"porc", TagInfo{"Porc", []string{"porc", "jambon", "lard", "echine"}}},
			{"boeuf", TagInfo{"Bœuf", []string{"boeuf", "bovin", "entrecote", "bavette", "rumsteck"}}},
			{"veau", TagInfo{"Veau", []string{"veau"}}},
			{"agneau", TagInfo{"Agneau", []string{"agneau", "mouton"}}},
			{"volaille", TagInfo{"Volaille", []string{"poulet", "dinde", "canard", "pintade", "volaille", "caille"}}},
		},
	},
	{
		Heading: "Charcuterie",
		Tags: []Tag{
			{"saucisse", TagInfo{"Saucisses", []string{"saucisse", "chipolata", "merguez", "saucisson"}}},
			{"pate", TagInfo{"Pâtés et terrines", []string{"pate", "terrine", "rillette"}}},
		},
	},
	{
		Heading: "Produits de la mer",
		Tags: []Tag{
			{"poisson", TagInfo{"Poissons", []string{"poisson", "saumon", "cabillaud", "thon", "colin", "merlu"}}},
			{"crustace", TagInfo{"Crustacés", []string{"crevette", "crabe", "homard", "langoustine"}}},
		},
	},
	{
		Heading: "Crèmerie",
		Tags: []Tag{
			{"fromage", TagInfo{"Fromages", []string{"fromage", "emmental", "comte", "camembert", "chevre", "raclette"}}},
			{"lait", TagInfo{"Lait", []string{"lait"}}},
			{"beurre_creme", TagInfo{"Beurre et crème", []string{"beurre", "creme"}}},
			{"oeuf", TagInfo{"Œufs", []string{"oeuf"}}},
		},
	},
	{
		Heading: "Fruits et légumes",
		Tags: []Tag{
			{"fruit", TagInfo{"Fruits", []string{"pomme", "poire", "fraise", "orange", "banane", "citron"}}},
			{"legume", TagInfo{"Légumes", []string{"carotte", "pomme de terre", "salade", "tomate", "oignon", "haricot", "courgette"}}},
		},
	},
	{
		Heading: "Épicerie",
		Tags: []Tag{
			{"bio", TagInfo{"Bio", []string{"bio"}}},
			{"sauce", TagInfo{"Sauces", []string{"sauce", "moutarde", "mayonnaise", "vinaigrette"}}},
		},
	},
}

// StaticGroups returns the static registry in display order.
func StaticGroups() []Group {
	out := make([]Group, len(staticGroups))
	copy(out, staticGroups)
	return out
}

// StaticTag looks up a static tag by code.
func StaticTag(code string) (TagInfo, bool) {
	for _, g := range staticGroups {
		for _, t := range g.Tags {
			if t.Code == code {
				return t.TagInfo, true
			}
		}
	}
	return TagInfo{}, false
}

// staticTerms lists every term of the static registry; mined keywords
// already covered by one of them are not turned into automatic tags.
var staticTerms = func() map[string]struct{} {
	terms := make(map[string]struct{})
	for _, g := range staticGroups {
		for _, t := range g.Tags {
			for _, term := range t.Terms {
				terms[term] = struct{}{}
				terms[singular(term)] = struct{}{}
			}
		}
	}
	return terms
}()
