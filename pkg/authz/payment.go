package authz

import (
	"time"

	"github.com/platinummonkey/assetgate/pkg/entitlement"
)

// CheckPayment gates premium categories on a paid, unexpired permission.
// Free categories pass without looking at the permission's payment flag.
func CheckPayment(category *entitlement.ResourceCategory, perm *entitlement.CategoryPermission, now time.Time) *Error {
	if !category.IsPremium {
		return nil
	}
	if perm.IsActive(now) && perm.IsPaid {
		return nil
	}
	return newError(KindPaymentRequired, Detail{
		Reason:       "category requires payment",
		CategoryName: category.Name,
		Price:        category.Price,
		Currency:     category.Currency,
	}, nil)
}
