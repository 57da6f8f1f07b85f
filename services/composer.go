package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"abandonment-service/models"
	"abandonment-service/sanitizer"

	"go.uber.org/zap"
)

// ErrMissingIdentity is returned when a message cannot be addressed.
var ErrMissingIdentity = errors.New("user identity missing")

//go:embed templates/*
var templateFS embed.FS

// TextGenerator produces free text from a system and a user prompt.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Recommender interface {
	Recommend(items []models.CartItem, k int) []models.RecommendationCandidate
}

type ComposerConfig struct {
	BaseURL             string
	StoreName           string
	SupportEmail        string
	RecommendationCount int
	GenerationTimeout   time.Duration
	FreeShipping        bool
	Discounts           DiscountPolicy
}

const previewLength = 100

const systemPrompt = "You are a creative marketing assistant writing personalized cart reminder emails. " +
	"Be warm and conversational without being pushy. Vary your writing style and avoid repetitive patterns."

var (
	tones = []string{
		"friendly and enthusiastic",
		"warm and helpful",
		"casual and conversational",
		"excited and upbeat",
	}
	approaches = []string{
		"Start by mentioning their cart items, then introduce the discount and recommendations naturally",
		"Lead with the special discount offer, then highlight what's in their cart and suggested items",
		"Begin with a warm greeting about their selections, weave in the discount and recommendations organically",
		"Open with excitement about their cart choices, then present the offer and complementary products",
	}
	styles = []string{
		"Use short, punchy sentences and varied structure",
		"Mix longer descriptive sentences with brief action-oriented ones",
		"Blend questions with statements to create engagement",
		"Use conversational fragments alongside complete sentences for natural flow",
	}
)

// signaturePatterns match closing salutations up to the end of their line.
// Multi-word salutations come first so they are removed whole.
var signaturePatterns = compileAll(
	`(?is)\bWith best regards,.*?(?:\n|$)`,
	`(?is)\bBest regards,.*?(?:\n|$)`,
	`(?is)\bKind regards,.*?(?:\n|$)`,
	`(?is)\bWarm regards,.*?(?:\n|$)`,
	`(?is)\bBest wishes,.*?(?:\n|$)`,
	`(?is)\bYours sincerely,.*?(?:\n|$)`,
	`(?is)\bYours truly,.*?(?:\n|$)`,
	`(?is)\bBest,.*?(?:\n|$)`,
	`(?is)\bSincerely,.*?(?:\n|$)`,
	`(?is)\bRegards,.*?(?:\n|$)`,
	`(?is)\bCheers,.*?(?:\n|$)`,
	`(?is)\bThanks,.*?(?:\n|$)`,
	`(?i)\[Your Name\]`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// StripSignatures removes closing salutations and name placeholders.
func StripSignatures(text string) string {
	for _, re := range signaturePatterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// MessageComposer turns a cart and its recommendations into a mail.
type MessageComposer struct {
	recommender Recommender
	generator   TextGenerator
	sanitizer   *sanitizer.Sanitizer
	cfg         ComposerConfig
	logger      *zap.Logger

	html *htmltemplate.Template
	text *texttemplate.Template

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMessageComposer parses the mail templates. generator may be nil, in
// which case every body comes from the fallback template.
func NewMessageComposer(
	rec Recommender,
	gen TextGenerator,
	san *sanitizer.Sanitizer,
	cfg ComposerConfig,
	logger *zap.Logger,
) (*MessageComposer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if san == nil {
		san = sanitizer.New(logger)
	}
	if cfg.RecommendationCount <= 0 {
		cfg.RecommendationCount = 3
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 20 * time.Second
	}

	funcs := map[string]any{"money": money}
	html, err := htmltemplate.New("abandonment.html").Funcs(funcs).ParseFS(templateFS, "templates/abandonment.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html template: %w", err)
	}
	text, err := texttemplate.New("abandonment.txt").Funcs(funcs).ParseFS(templateFS, "templates/abandonment.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}

	return &MessageComposer{
		recommender: rec,
		generator:   gen,
		sanitizer:   san,
		cfg:         cfg,
		logger:      logger,
		html:        html,
		text:        text,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}, nil
}

// WithRand replaces the random source used for prompt variety.
func (c *MessageComposer) WithRand(r *rand.Rand) *MessageComposer {
	c.rngMu.Lock()
	c.rng = r
	c.rngMu.Unlock()
	return c
}

// Discount returns the percentage offered for a cart total.
func (c *MessageComposer) Discount(total float64) float64 {
	return c.cfg.Discounts.Percent(total)
}

// Compose builds the recovery mail for a customer. Generation problems are
// handled internally; only a customer without an address is an error.
func (c *MessageComposer) Compose(ctx context.Context, user models.Customer, items []models.CartItem, total float64, logID int64) (*models.Message, error) {
	if strings.TrimSpace(user.Email) == "" {
		return nil, ErrMissingIdentity
	}
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = "there"
	}

	discount := c.Discount(total)
	recs := c.recommender.Recommend(items, c.cfg.RecommendationCount)
	body, generated := c.body(ctx, name, items, total, discount, recs)

	view := c.view(name, items, total, discount, recs, body, logID)

	var htmlBuf, textBuf bytes.Buffer
	if err := c.html.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("html template render failed: %w", err)
	}
	if err := c.text.Execute(&textBuf, view); err != nil {
		return nil, fmt.Errorf("text template render failed: %w", err)
	}

	subject := name + ", you left something in your cart!"
	if discount > 0 {
		subject += " + " + percent(discount) + "% OFF!"
	}

	c.logger.Info("generated abandonment email",
		zap.Float64("cart_total", total),
		zap.Float64("discount", discount),
		zap.Int("recommendations", len(recs)),
		zap.Bool("generated", generated),
	)

	return &models.Message{
		Subject:         subject,
		HTMLBody:        htmlBuf.String(),
		TextBody:        textBuf.String(),
		Discount:        discount,
		Generated:       generated,
		Recommendations: recs,
	}, nil
}

// body returns the personalised paragraph and whether it came from the generator.
func (c *MessageComposer) body(ctx context.Context, name string, items []models.CartItem, total, discount float64, recs []models.RecommendationCandidate) (string, bool) {
	var raw string
	generated := false

	if c.generator != nil {
		gctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
		out, err := c.generator.Generate(gctx, systemPrompt, c.prompt(name, items, total, discount, recs))
		cancel()
		if err != nil {
			c.logger.Warn("text generation failed, using fallback", zap.Error(err))
		} else {
			raw = out
			generated = true
		}
	}
	if !generated {
		raw = fallbackText(items, recs)
	}

	res := c.sanitizer.Clean(raw, sanitizer.ModeMessage)
	if generated && len(res.Removed) > 0 {
		c.logger.Warn("[SAFE_SANITIZER] generated email content was sanitized", zap.Any("removed", res.Removed))
	}
	text := StripSignatures(res.Text)

	if text == "" {
		c.logger.Warn("email body empty after post-processing, using fallback")
		text = StripSignatures(c.sanitizer.Sanitize(fallbackText(items, recs), sanitizer.ModeMessage))
		generated = false
	}
	return text, generated
}

func (c *MessageComposer) prompt(name string, items []models.CartItem, total, discount float64, recs []models.RecommendationCandidate) string {
	c.rngMu.Lock()
	tone := tones[c.rng.IntN(len(tones))]
	approach := approaches[c.rng.IntN(len(approaches))]
	style := styles[c.rng.IntN(len(styles))]
	var highlighted []models.RecommendationCandidate
	if len(recs) > 0 {
		n := min(len(recs), 1+c.rng.IntN(3))
		for _, i := range c.rng.Perm(len(recs))[:n] {
			highlighted = append(highlighted, recs[i])
		}
	}
	c.rngMu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Write a personalized cart reminder email for %s.\n\n", name)
	fmt.Fprintf(&b, "Cart contents ($%s):\n", money(total))
	for _, it := range items {
		fmt.Fprintf(&b, "- %s (Qty: %d) - $%s\n", it.Name, it.Quantity, money(it.LineTotal))
	}
	fmt.Fprintf(&b, "\nSpecial offer: %s%% discount\n\nSuggested complementary products:\n", percent(discount))
	if len(highlighted) == 0 {
		b.WriteString("No specific recommendations available\n")
	}
	for _, r := range highlighted {
		desc := r.Product.DescriptionText()
		if desc == "" {
			desc = "Great product"
		}
		fmt.Fprintf(&b, "- %s: %s... ($%s)\n", r.Product.Name, truncate(desc, 80), money(r.Product.Price))
	}
	fmt.Fprintf(&b, "\nTone: %s\nApproach: %s\nStyle: %s\n\n", tone, approach, style)
	b.WriteString("Requirements:\n")
	b.WriteString("- Mention 1-2 cart items by name naturally in conversation\n")
	fmt.Fprintf(&b, "- Work in the %s%% discount smoothly (don't make it the only focus)\n", percent(discount))
	b.WriteString("- Suggest how 1-2 recommended products complement their selections\n")
	b.WriteString("- Do not pressure, shame or rush the reader\n")
	b.WriteString("- Keep under 150 words\n")
	b.WriteString("- No signatures, closings, or \"Best regards\" type phrases\n\n")
	b.WriteString("Write the email body now:\n")
	return b.String()
}

// fallbackText is the deterministic body used when generation is unavailable.
func fallbackText(items []models.CartItem, recs []models.RecommendationCandidate) string {
	cartNames := "your items"
	if len(items) > 0 {
		names := make([]string, 0, 2)
		for _, it := range items[:min(2, len(items))] {
			names = append(names, it.Name)
		}
		cartNames = strings.Join(names, ", ")
	}

	if len(recs) == 0 {
		return "Great choice on " + cartNames + "! Your items are saved in your cart whenever you are ready."
	}

	names := make([]string, 0, 2)
	for _, r := range recs[:min(2, len(recs))] {
		names = append(names, r.Product.Name)
	}
	return "We noticed you're interested in " + cartNames + ". Based on your selection, we think you'll also love " +
		strings.Join(names, ", ") + ". These products pair nicely with what's already in your cart."
}

type itemView struct {
	Name      string
	Quantity  int
	Price     float64
	LineTotal float64
}

type recView struct {
	Name     string
	Category string
	Preview  string
	Price    float64
	URL      string
}

type mailView struct {
	StoreName       string
	SupportEmail    string
	Name            string
	Body            string
	Items           []itemView
	CartTotal       float64
	Discount        string
	DiscountedTotal float64
	Savings         float64
	FreeShipping    bool
	CartURL         string
	Recommendations []recView
	PixelURL        string
	Year            int
}

func (c *MessageComposer) view(name string, items []models.CartItem, total, discount float64, recs []models.RecommendationCandidate, body string, logID int64) mailView {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	discounted := round2(total * (1 - discount/100))

	v := mailView{
		StoreName:       c.cfg.StoreName,
		SupportEmail:    c.cfg.SupportEmail,
		Name:            name,
		Body:            body,
		CartTotal:       total,
		DiscountedTotal: discounted,
		Savings:         round2(total - discounted),
		FreeShipping:    c.cfg.FreeShipping,
		CartURL:         base + "/cart",
		Year:            time.Now().Year(),
	}
	if discount > 0 {
		v.Discount = percent(discount)
	}

	if logID > 0 {
		q := url.Values{}
		q.Set("email_track", strconv.FormatInt(logID, 10))
		q.Set("discount", percent(discount))
		q.Set("source", "abandonment_email")
		v.CartURL += "?" + q.Encode()
		v.PixelURL = base + "/track/email/" + strconv.FormatInt(logID, 10)
	}

	for _, it := range items {
		v.Items = append(v.Items, itemView{
			Name:      c.sanitizer.Sanitize(it.Name, sanitizer.ModeMessage),
			Quantity:  it.Quantity,
			Price:     it.Price,
			LineTotal: it.LineTotal,
		})
	}

	for _, r := range recs {
		desc := r.Product.DescriptionText()
		if desc == "" {
			desc = "A great product for you"
		}
		desc = c.sanitizer.Sanitize(desc, sanitizer.ModeMessage)
		if len([]rune(desc)) > previewLength {
			desc = truncate(desc, previewLength) + "..."
		}
		v.Recommendations = append(v.Recommendations, recView{
			Name:     c.sanitizer.Sanitize(r.Product.Name, sanitizer.ModeMessage),
			Category: c.sanitizer.Sanitize(r.Product.CategoryOrDefault(), sanitizer.ModeMessage),
			Preview:  desc,
			Price:    r.Product.Price,
			URL:      base + "/product/" + r.Product.ID.String(),
		})
	}
	return v
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
