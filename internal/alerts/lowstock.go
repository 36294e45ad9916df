// Package alerts notifies the shop owner when products cross their minimum
// stock level. Alerts are advisory: a failed notification never touches the
// sale path.
package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lojaops/backend-loja/internal/common"
	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/obs"
	"github.com/lojaops/backend-loja/internal/store"
)

// LowStock checks products against their minimum stock and emails the
// configured recipient for each product below threshold.
type LowStock struct {
	Store  store.Store
	Email  common.EmailSender
	To     string
	Logger zerolog.Logger
}

// Check runs the threshold check over the given products, or over the whole
// catalog when ids is empty. It returns the products found below minimum.
func (l LowStock) Check(ctx context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	low, err := l.Store.LowStockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range low {
		obs.IncLowStockAlert()
		l.Logger.Warn().
			Str("product_id", p.ID.String()).
			Str("name", p.Name).
			Str("quantity", p.Quantity.String()).
			Str("min_stock", p.MinStock.String()).
			Msg("product below minimum stock")
	}
	if len(low) > 0 && l.Email != nil && l.To != "" {
		if err := l.Email.Send(l.To, subject(low), body(low)); err != nil {
			l.Logger.Error().Err(err).Msg("send low stock alert email")
		}
	}
	return low, nil
}

func subject(low []domain.Product) string {
	if len(low) == 1 {
		return fmt.Sprintf("Estoque baixo: %s", low[0].Name)
	}
	return fmt.Sprintf("Estoque baixo: %d produtos abaixo do mínimo", len(low))
}

func body(low []domain.Product) string {
	var b strings.Builder
	b.WriteString("<p>Produtos abaixo do estoque mínimo:</p><ul>")
	for _, p := range low {
		fmt.Fprintf(&b, "<li>%s (código %s): %s em estoque, mínimo %s</li>",
			p.Name, p.Barcode, p.Quantity, p.MinStock)
	}
	b.WriteString("</ul>")
	return b.String()
}
