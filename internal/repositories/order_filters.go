package repositories

import (
	"sort"

	"dinein_backend/internal/models"
)

// applyOrderFilters filters, sorts (newest first) and paginates orders for
// stores that cannot push the query down. It returns the page and the total
// number of matches before pagination.
func applyOrderFilters(all []models.Order, filters models.OrderFilters) ([]models.Order, int) {
	matched := make([]models.Order, 0, len(all))
	for _, o := range all {
		if !matchesFilters(&o, filters) {
			continue
		}
		matched = append(matched, o)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderNumber > matched[j].OrderNumber
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filters.PageSize <= 0 {
		return matched, total
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filters.PageSize
	if start >= total {
		return []models.Order{}, total
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

func matchesFilters(o *models.Order, f models.OrderFilters) bool {
	if f.RestaurantID != nil && *f.RestaurantID != "" && o.RestaurantID != *f.RestaurantID {
		return false
	}
	if f.TableID != nil && *f.TableID != "" && o.TableID != *f.TableID {
		return false
	}
	if f.Status != nil && *f.Status != "" && string(o.Status) != *f.Status {
		return false
	}
	if f.PaymentStatus != nil && *f.PaymentStatus != "" && string(o.PaymentStatus) != *f.PaymentStatus {
		return false
	}
	return true
}

// isOpenForTable mirrors the postgres FindOpenOrderForTable predicate.
func isOpenForTable(o *models.Order, restaurantID, tableID string) bool {
	if o.RestaurantID != restaurantID || o.TableID != tableID {
		return false
	}
	if o.Status.IsTerminal() {
		return false
	}
	return o.PaymentStatus == models.PaymentStatusPending || o.PaymentStatus == models.PaymentStatusFailed
}

// newestOpenOrder picks the newest open order for a table from a candidate set.
func newestOpenOrder(all []models.Order, restaurantID, tableID string) *models.Order {
	var best *models.Order
	for i := range all {
		o := &all[i]
		if !isOpenForTable(o, restaurantID, tableID) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) ||
			(o.CreatedAt.Equal(best.CreatedAt) && o.OrderNumber > best.OrderNumber) {
			best = o
		}
	}
	return best
}
