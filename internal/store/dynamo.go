package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix    = "GALLERY#"
	skMeta      = "META"
	skOrder     = "ORDER#"
	gsiPKPrefix = "OWNER#"
	gsiSKPrefix = "STATUS#"

	// ownerStatusIndex is the GSI keyed by owner and delivery status. The
	// delivery dashboard queries one status partition per goroutine.
	ownerStatusIndex = "OwnerStatusIndex"
)

// DynamoStore implements Store using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

func galleryPK(galleryID string) string { return pkPrefix + galleryID }
func orderSK(orderID string) string     { return skOrder + orderID }
func ownerGSIPK(ownerID string) string  { return gsiPKPrefix + ownerID }

// statusGSISK builds the GSI sort key. Including the orderId keeps entries
// unique within a status partition without making the key change on every
// field update.
func statusGSISK(status, orderID string) string {
	return gsiSKPrefix + status + "#" + orderID
}

func (s *DynamoStore) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// --- Gallery operations ---

func (s *DynamoStore) GetGallery(ctx context.Context, galleryID string) (*Gallery, error) {
	var g Gallery
	found, err := s.getItem(ctx, galleryPK(galleryID), skMeta, &g)
	if err != nil {
		return nil, fmt.Errorf("get gallery %s: %w", galleryID, err)
	}
	if !found {
		return nil, nil
	}
	g.ID = galleryID
	return &g, nil
}

func (s *DynamoStore) PutGallery(ctx context.Context, g *Gallery) error {
	item, err := attributevalue.MarshalMap(g)
	if err != nil {
		return fmt.Errorf("marshal gallery %s: %w", g.ID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: galleryPK(g.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put gallery %s: %w", g.ID, err)
	}

	log.Debug().Str("galleryId", g.ID).Msg("Gallery persisted")
	return nil
}

func (s *DynamoStore) UpdateGallerySelection(ctx context.Context, galleryID string, upd GallerySelectionUpdate) error {
	statsAttr, err := attributevalue.Marshal(upd.Stats)
	if err != nil {
		return fmt.Errorf("marshal selection stats: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(galleryPK(galleryID), skMeta),
		UpdateExpression: aws.String("SET selectionStatus = :st, selectionStats = :ss, currentOrderId = :oid, updatedAt = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: upd.SelectionStatus},
			":ss":  statsAttr,
			":oid": &types.AttributeValueMemberS{Value: upd.CurrentOrderID},
			":at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(upd.UpdatedAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("update gallery selection %s: %w", galleryID, err)
	}

	log.Debug().
		Str("galleryId", galleryID).
		Str("selectionStatus", upd.SelectionStatus).
		Int("selectedCount", upd.Stats.SelectedCount).
		Msg("Gallery selection summary updated")
	return nil
}

func (s *DynamoStore) NextOrderNumber(ctx context.Context, galleryID string) (int, error) {
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(galleryPK(galleryID), skMeta),
		UpdateExpression: aws.String("ADD lastOrderNumber :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment order number for %s: %w", galleryID, err)
	}

	attr, ok := result.Attributes["lastOrderNumber"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("increment order number for %s: unexpected attribute shape", galleryID)
	}
	n, err := strconv.Atoi(attr.Value)
	if err != nil {
		return 0, fmt.Errorf("increment order number for %s: parse %q: %w", galleryID, attr.Value, err)
	}
	return n, nil
}

func (s *DynamoStore) AddStorageBytes(ctx context.Context, galleryID string, delta int64) (int64, error) {
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(galleryPK(galleryID), skMeta),
		UpdateExpression: aws.String("ADD storageBytesUsed :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("adjust storage bytes for %s: %w", galleryID, err)
	}

	attr, ok := result.Attributes["storageBytesUsed"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("adjust storage bytes for %s: unexpected attribute shape", galleryID)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("adjust storage bytes for %s: parse %q: %w", galleryID, attr.Value, err)
	}
	return n, nil
}

func (s *DynamoStore) ClampStorageBytes(ctx context.Context, galleryID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(galleryPK(galleryID), skMeta),
		UpdateExpression:    aws.String("SET storageBytesUsed = :zero"),
		ConditionExpression: aws.String("storageBytesUsed < :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// Counter is already non-negative, nothing to correct.
			return nil
		}
		return fmt.Errorf("clamp storage bytes for %s: %w", galleryID, err)
	}

	log.Warn().Str("galleryId", galleryID).Msg("Negative storage counter clamped to zero")
	return nil
}

// --- Order operations ---

func (s *DynamoStore) GetOrder(ctx context.Context, galleryID, orderID string) (*Order, error) {
	var o Order
	found, err := s.getItem(ctx, galleryPK(galleryID), orderSK(orderID), &o)
	if err != nil {
		return nil, fmt.Errorf("get order %s/%s: %w", galleryID, orderID, err)
	}
	if !found {
		return nil, nil
	}
	o.GalleryID = galleryID
	o.ID = orderID
	return &o, nil
}

func (s *DynamoStore) PutOrder(ctx context.Context, o *Order) error {
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order %s/%s: %w", o.GalleryID, o.ID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: galleryPK(o.GalleryID)}
	item["SK"] = &types.AttributeValueMemberS{Value: orderSK(o.ID)}
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: ownerGSIPK(o.OwnerID)}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: statusGSISK(o.DeliveryStatus, o.ID)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put order %s/%s: %w", o.GalleryID, o.ID, err)
	}

	log.Debug().
		Str("galleryId", o.GalleryID).
		Str("orderId", o.ID).
		Str("deliveryStatus", o.DeliveryStatus).
		Int("selectedCount", len(o.SelectedKeys)).
		Msg("Order persisted")
	return nil
}

func (s *DynamoStore) ListOrdersByGallery(ctx context.Context, galleryID string) ([]*Order, error) {
	pk := galleryPK(galleryID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: skOrder},
		},
	}

	var orders []*Order

	// Handle pagination — DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query orders for gallery %s: %w", galleryID, err)
		}

		for _, item := range result.Items {
			o, err := unmarshalOrderItem(item)
			if err != nil {
				log.Warn().Err(err).Str("galleryId", galleryID).Msg("Failed to unmarshal order, skipping")
				continue
			}
			orders = append(orders, o)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return orders, nil
}

func (s *DynamoStore) ListOwnerOrdersByStatus(ctx context.Context, ownerID, status string) ([]*Order, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(ownerStatusIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerGSIPK(ownerID)},
			":sk": &types.AttributeValueMemberS{Value: gsiSKPrefix + status + "#"},
		},
	}

	var orders []*Order

	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s orders for owner %s: %w", status, ownerID, err)
		}

		for _, item := range result.Items {
			o, err := unmarshalOrderItem(item)
			if err != nil {
				log.Warn().Err(err).Str("ownerId", ownerID).Str("status", status).Msg("Failed to unmarshal order, skipping")
				continue
			}
			orders = append(orders, o)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return orders, nil
}

// unmarshalOrderItem decodes a raw item and derives the composite identity
// from PK ("GALLERY#{galleryId}") and SK ("ORDER#{orderId}").
func unmarshalOrderItem(item map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order item: %w", err)
	}
	if pkAttr, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		o.GalleryID = strings.TrimPrefix(pkAttr.Value, pkPrefix)
	}
	if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
		o.ID = strings.TrimPrefix(skAttr.Value, skOrder)
	}
	return &o, nil
}

// archiveAttrNames maps an archive kind to its flag and hash attributes.
// The unselected bundle shares the originals pair: both are built from the
// same selection cycle and are never in flight at the same time.
func archiveAttrNames(kind ArchiveKind) (flag, hash string) {
	if kind == ArchiveFinal {
		return "finalZipGenerating", "finalZipFilesHash"
	}
	return "zipGenerating", "zipSelectedKeysHash"
}

func (s *DynamoStore) SetArchiveState(ctx context.Context, galleryID, orderID string, kind ArchiveKind, generating bool, hash string) error {
	flagAttr, hashAttr := archiveAttrNames(kind)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(galleryPK(galleryID), orderSK(orderID)),
		UpdateExpression: aws.String("SET #f = :f, #h = :h"),
		ExpressionAttributeNames: map[string]string{
			"#f": flagAttr,
			"#h": hashAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: generating},
			":h": &types.AttributeValueMemberS{Value: hash},
		},
	})
	if err != nil {
		return fmt.Errorf("set %s archive state for %s/%s: %w", kind, galleryID, orderID, err)
	}

	log.Debug().
		Str("galleryId", galleryID).
		Str("orderId", orderID).
		Str("kind", string(kind)).
		Bool("generating", generating).
		Msg("Archive state updated")
	return nil
}

func (s *DynamoStore) MarkOrderDelivered(ctx context.Context, galleryID, orderID string, deliveredAt int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(galleryPK(galleryID), orderSK(orderID)),
		UpdateExpression: aws.String("SET deliveryStatus = :st, deliveredAt = :d, updatedAt = :d, GSI1SK = :gsk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: StatusDelivered},
			":d":   &types.AttributeValueMemberN{Value: strconv.FormatInt(deliveredAt, 10)},
			":gsk": &types.AttributeValueMemberS{Value: statusGSISK(StatusDelivered, orderID)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark order %s/%s delivered: %w", galleryID, orderID, err)
	}

	log.Info().Str("galleryId", galleryID).Str("orderId", orderID).Msg("Order marked delivered")
	return nil
}
