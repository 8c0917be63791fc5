package matcher

import "reminder-engine/internal/models"

const propertyColumns = `
	COALESCE(pr.id::text, ''),
	COALESCE(concat_ws(', ', NULLIF(pr.address_line1, ''), NULLIF(pr.city, '')), ''),
	COALESCE(pr.unit_label, '')`

func leaseQuery(dateColumn string) string {
	return `
	SELECT l.id, l.landlord_id, l.` + dateColumn + `, COALESCE(l.tenant_user_id::text, ''),` + propertyColumns + `,
	       l.id
	FROM leases l
	LEFT JOIN properties pr ON pr.id = l.property_id
	WHERE l.landlord_id = $1 AND l.` + dateColumn + ` = $2::date AND l.status = ANY($3)
	ORDER BY l.id`
}

var (
	rentDueQuery = `
	SELECT p.id, l.landlord_id, p.due_date, COALESCE(l.tenant_user_id::text, ''),` + propertyColumns + `,
	       l.id
	FROM payments p
	JOIN leases l ON l.id = p.lease_id
	LEFT JOIN properties pr ON pr.id = l.property_id
	WHERE l.landlord_id = $1 AND p.due_date = $2::date AND p.status = ANY($3)
	ORDER BY p.id`

	invoiceDueQuery = `
	SELECT i.id, l.landlord_id, i.due_date, COALESCE(l.tenant_user_id::text, ''),` + propertyColumns + `,
	       l.id
	FROM invoices i
	JOIN leases l ON l.id = i.lease_id
	LEFT JOIN properties pr ON pr.id = l.property_id
	WHERE l.landlord_id = $1 AND i.due_date = $2::date AND i.status = ANY($3)
	ORDER BY i.id`

	documentExpiryQuery = `
	SELECT d.id, d.landlord_id, d.expiry_date, COALESCE(l.tenant_user_id::text, ''),` + propertyColumns + `,
	       d.lease_id
	FROM documents d
	LEFT JOIN leases l ON l.id = d.lease_id
	LEFT JOIN properties pr ON pr.id = COALESCE(d.property_id, l.property_id)
	WHERE d.landlord_id = $1 AND d.expiry_date = $2::date AND d.status = ANY($3)
	ORDER BY d.id`

	maintenanceQuery = `
	SELECT m.id, pr.landlord_id, m.scheduled_date, COALESCE(l.tenant_user_id::text, ''),` + propertyColumns + `,
	       m.lease_id
	FROM maintenance_requests m
	JOIN properties pr ON pr.id = m.property_id
	LEFT JOIN leases l ON l.id = m.lease_id
	WHERE pr.landlord_id = $1 AND m.scheduled_date = $2::date AND m.status = ANY($3)
	ORDER BY m.id`
)

// DefaultStrategies returns one strategy per supported event type.
func DefaultStrategies() []Strategy {
	leaseLinks := func(id, _ string) models.Links { return models.Links{LeaseID: id} }

	return []Strategy{
		{
			EventType: models.EventLeaseEndDate,
			Statuses:  []string{"ACTIVE", "ACTIVE_PENDING_MOVE_IN"},
			Query:     leaseQuery("end_date"),
			Links:     leaseLinks,
		},
		{
			EventType: models.EventLeaseStartDate,
			Statuses:  []string{"ACTIVE", "ACTIVE_PENDING_MOVE_IN"},
			Query:     leaseQuery("start_date"),
			Links:     leaseLinks,
		},
		{
			EventType: models.EventRentDueDate,
			Statuses:  []string{"PENDING", "PARTIALLY_PAID", "OVERDUE"},
			Query:     rentDueQuery,
			Links: func(id, leaseID string) models.Links {
				return models.Links{PaymentID: id, LeaseID: leaseID}
			},
		},
		{
			EventType: models.EventInvoiceDueDate,
			Statuses:  []string{"ISSUED", "PARTIALLY_PAID", "OVERDUE"},
			Query:     invoiceDueQuery,
			Links: func(id, leaseID string) models.Links {
				return models.Links{InvoiceID: id, LeaseID: leaseID}
			},
		},
		{
			EventType: models.EventDocumentExpiryDate,
			Statuses:  []string{"ACTIVE"},
			Query:     documentExpiryQuery,
			Links: func(id, leaseID string) models.Links {
				return models.Links{DocumentID: id, LeaseID: leaseID}
			},
		},
		{
			EventType: models.EventMaintenanceScheduledDate,
			Statuses:  []string{"SCHEDULED", "ASSIGNED"},
			Query:     maintenanceQuery,
			Links: func(id, leaseID string) models.Links {
				return models.Links{MaintenanceRequestID: id, LeaseID: leaseID}
			},
		},
	}
}
