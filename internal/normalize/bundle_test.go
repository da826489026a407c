package normalize

import (
	"strings"
	"testing"
)

const listingPage = `<!doctype html>
<html>
<head>
	<title>Villa con piscina en Marbella</title>
	<meta property="og:title" content="Villa con piscina">
	<meta name="description" content="Luminosa villa de 4 dormitorios">
	<script>var price = "999.999 €"; var mail = "tracker@ads.net";</script>
	<style>.price::after { content: "1 €"; }</style>
	<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Organization","name":"Costa Homes"},{"@type":["Product","SingleFamilyResidence"],"name":"Villa","offers":{"price":"450000"}}]}</script>
</head>
<body>
	<nav>Comprar | Alquilar | 0 € comisión</nav>
	<h1>Villa con piscina</h1>
	<h2>Ref</h2>
	<div class="price-box"><span>Precio:</span> <strong>450.000</strong> €</div>
	<ul class="features">
		<li>Superficie construida: 180 m²</li>
		<li>4 dormitorios</li>
		<li>3 baños</li>
	</ul>
	<div class="property-description">
		Espectacular villa situada en una zona tranquila con vistas al mar, jardín privado y piscina. Cerca de colegios y del centro.
	</div>
	<div class="agent-card">Agencia: Costa Homes Marbella</div>
	<p>Llame al +34 952 123 456 o escriba a info@costahomes.es, logo@2x.png, noreply@costahomes.es</p>
	<a href="tel:+34600111222">Móvil</a>
	<a href="mailto:Ventas@CostaHomes.es?subject=Villa">Email</a>
	<footer>Contacto: test@example.com | 911 222 333</footer>
</body>
</html>`

func TestBuildExtractsLabeledContexts(t *testing.T) {
	t.Parallel()

	b := Build(Input{HTML: listingPage, URL: "https://costahomes.es/villa/1"})

	if b.Title != "Villa con piscina en Marbella" {
		t.Fatalf("unexpected title %q", b.Title)
	}
	if b.Meta["og:title"] != "Villa con piscina" || b.Meta["description"] == "" {
		t.Fatalf("unexpected meta: %#v", b.Meta)
	}
	if len(b.Headers) != 1 || b.Headers[0] != "Villa con piscina" {
		t.Fatalf("expected short heading to be dropped, got %#v", b.Headers)
	}
	if !containsSubstring(b.PriceContexts, "450.000 €") {
		t.Fatalf("expected visible price context, got %#v", b.PriceContexts)
	}
	if !containsSubstring(b.AreaContexts, "180 m²") {
		t.Fatalf("expected area context, got %#v", b.AreaContexts)
	}
	if !containsSubstring(b.RoomContexts, "4 dormitorios") {
		t.Fatalf("expected room context, got %#v", b.RoomContexts)
	}
	if !containsSubstring(b.BathroomContexts, "3 baños") {
		t.Fatalf("expected bathroom context, got %#v", b.BathroomContexts)
	}
	if !containsSubstring(b.AgentContexts, "Costa Homes Marbella") {
		t.Fatalf("expected agent context, got %#v", b.AgentContexts)
	}
	if b.StructuredData == nil || b.StructuredData["name"] != "Villa" {
		t.Fatalf("expected embedded JSON-LD listing, got %#v", b.StructuredData)
	}
	if !strings.Contains(b.MainContent, "Espectacular villa") {
		t.Fatalf("expected description block in main content, got %q", b.MainContent)
	}
}

func TestBuildRemovesNoiseBeforeSearching(t *testing.T) {
	t.Parallel()

	b := Build(Input{HTML: listingPage})

	for _, list := range [][]string{b.PriceContexts, b.EmailContexts, b.PhoneContexts} {
		for _, item := range list {
			if strings.Contains(item, "999.999") || strings.Contains(item, "tracker@") ||
				strings.Contains(item, "comisión") || strings.Contains(item, "911 222 333") {
				t.Fatalf("noise leaked into contexts: %q", item)
			}
		}
	}
}

func TestBuildFiltersContacts(t *testing.T) {
	t.Parallel()

	b := Build(Input{HTML: listingPage})

	if !containsExact(b.PhoneContexts, "+34600111222") || !containsExact(b.PhoneContexts, "+34 952 123 456") {
		t.Fatalf("unexpected phones: %#v", b.PhoneContexts)
	}
	if !containsExact(b.EmailContexts, "ventas@costahomes.es") || !containsExact(b.EmailContexts, "info@costahomes.es") {
		t.Fatalf("unexpected emails: %#v", b.EmailContexts)
	}
	for _, email := range b.EmailContexts {
		if strings.HasPrefix(email, "noreply@") || strings.HasSuffix(email, ".png") {
			t.Fatalf("placeholder email kept: %q", email)
		}
	}
}

func TestBuildCapsAndDeduplicatesContexts(t *testing.T) {
	t.Parallel()

	var page strings.Builder
	page.WriteString("<html><body>")
	for i := 0; i < 4; i++ {
		page.WriteString("<p>Precio 100.000 €</p>")
	}
	for _, price := range []string{"200.000", "300.000", "400.000", "500.000", "600.000", "700.000"} {
		page.WriteString("<p>Precio " + price + " €</p>")
	}
	page.WriteString("</body></html>")

	b := Build(Input{HTML: page.String()})
	if len(b.PriceContexts) != maxContextItems {
		t.Fatalf("expected %d contexts, got %#v", maxContextItems, b.PriceContexts)
	}
	if b.PriceContexts[0] != "Precio 100.000 €" || b.PriceContexts[1] != "Precio 200.000 €" {
		t.Fatalf("expected order-preserving dedupe, got %#v", b.PriceContexts)
	}
}

func TestBuildRequiresDigitsInNumericContexts(t *testing.T) {
	t.Parallel()

	b := Build(Input{HTML: `<html><body><p>Price on request</p><p>Spacious bedroom with views</p></body></html>`})
	if len(b.PriceContexts) != 0 || len(b.RoomContexts) != 0 {
		t.Fatalf("expected no numeric contexts, got price=%#v rooms=%#v", b.PriceContexts, b.RoomContexts)
	}
}

func TestBuildNeverFailsOnEmptyInput(t *testing.T) {
	t.Parallel()

	b := Build(Input{})
	if b.Title != "" || b.MainContent != "" || len(b.PriceContexts) != 0 || b.Meta == nil {
		t.Fatalf("unexpected bundle for empty input: %#v", b)
	}

	b = Build(Input{Text: "  Piso   en venta \n\n cerca del mar  "})
	if b.MainContent != "Piso en venta\n\ncerca del mar" {
		t.Fatalf("expected plain text fallback, got %q", b.MainContent)
	}
}

func TestMainContentKeepsLargestBlocks(t *testing.T) {
	t.Parallel()

	block := func(word string, n int) string {
		return strings.TrimSpace(strings.Repeat(word+" ", n))
	}
	page := `<html><body>` +
		`<div class="content">` + block("alpha", 20) + `</div>` +
		`<div class="detail">` + block("bravo", 40) + `</div>` +
		`<article>` + block("charlie", 400) + `</article>` +
		`<section class="listing">` + block("delta", 30) + `</section>` +
		`</body></html>`

	got := mainContent(mustParse(t, page))
	parts := strings.Split(got, "\n\n")
	if len(parts) != contentBlocks {
		t.Fatalf("expected %d blocks, got %d: %q", contentBlocks, len(parts), got)
	}
	if !strings.HasPrefix(parts[0], "charlie") || runeLen(parts[0]) > contentBlockRunes {
		t.Fatalf("expected clipped largest block first, got %q", parts[0][:20])
	}
	if strings.Contains(got, "alpha") {
		t.Fatalf("expected smallest block to be dropped")
	}
}

func containsSubstring(items []string, want string) bool {
	for _, item := range items {
		if strings.Contains(item, want) {
			return true
		}
	}
	return false
}

func containsExact(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
