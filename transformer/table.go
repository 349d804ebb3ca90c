package transformer

import (
	"fmt"
	"slices"
)

// Key types of a key schema element.
const (
	KeyTypeHash  = "HASH"
	KeyTypeRange = "RANGE"
)

// KeySchemaElement is one attribute of a key.
type KeySchemaElement struct {
	AttributeName string `json:"AttributeName" yaml:"AttributeName" msgpack:"AttributeName"`
	KeyType       string `json:"KeyType" yaml:"KeyType" msgpack:"KeyType"`
}

// AttributeDefinition declares the type of a key attribute.
type AttributeDefinition struct {
	AttributeName string `json:"AttributeName" yaml:"AttributeName" msgpack:"AttributeName"`
	AttributeType string `json:"AttributeType" yaml:"AttributeType" msgpack:"AttributeType"`
}

// Projection selects the attributes copied into an index.
type Projection struct {
	ProjectionType   string   `json:"ProjectionType" yaml:"ProjectionType" msgpack:"ProjectionType"`
	NonKeyAttributes []string `json:"NonKeyAttributes,omitempty" yaml:"NonKeyAttributes,omitempty" msgpack:"NonKeyAttributes,omitempty"`
}

// GlobalSecondaryIndex is a table GSI.
type GlobalSecondaryIndex struct {
	IndexName             string             `json:"IndexName" yaml:"IndexName" msgpack:"IndexName"`
	KeySchema             []KeySchemaElement `json:"KeySchema" yaml:"KeySchema" msgpack:"KeySchema"`
	Projection            Projection         `json:"Projection" yaml:"Projection" msgpack:"Projection"`
	ProvisionedThroughput any                `json:"ProvisionedThroughput,omitempty" yaml:"ProvisionedThroughput,omitempty" msgpack:"ProvisionedThroughput,omitempty"`
}

// LocalSecondaryIndex is a table LSI.
type LocalSecondaryIndex struct {
	IndexName  string             `json:"IndexName" yaml:"IndexName" msgpack:"IndexName"`
	KeySchema  []KeySchemaElement `json:"KeySchema" yaml:"KeySchema" msgpack:"KeySchema"`
	Projection Projection         `json:"Projection" yaml:"Projection" msgpack:"Projection"`
}

// Table is the DynamoDB table of a model. New tables are keyed on id.
type Table struct {
	LogicalID              string
	TableName              any
	KeySchema              []KeySchemaElement
	AttributeDefinitions   []AttributeDefinition
	GlobalSecondaryIndexes []*GlobalSecondaryIndex
	LocalSecondaryIndexes  []*LocalSecondaryIndex
	StreamViewType         string
	TimeToLiveAttribute    string
}

// NewTable returns a table keyed on id with a NEW_AND_OLD_IMAGES stream.
func NewTable(logicalID string, tableName any) *Table {
	return &Table{
		LogicalID:            logicalID,
		TableName:            tableName,
		KeySchema:            []KeySchemaElement{{AttributeName: "id", KeyType: KeyTypeHash}},
		AttributeDefinitions: []AttributeDefinition{{AttributeName: "id", AttributeType: "S"}},
		StreamViewType:       "NEW_AND_OLD_IMAGES",
	}
}

// PartitionKey returns the hash key attribute name.
func (t *Table) PartitionKey() string { return keyOf(t.KeySchema, KeyTypeHash) }

// SortKey returns the range key attribute name, if any.
func (t *Table) SortKey() string { return keyOf(t.KeySchema, KeyTypeRange) }

func keyOf(schema []KeySchemaElement, keyType string) string {
	for _, k := range schema {
		if k.KeyType == keyType {
			return k.AttributeName
		}
	}
	return ""
}

// SetKeySchema replaces the primary key.
func (t *Table) SetKeySchema(schema []KeySchemaElement) {
	t.KeySchema = slices.Clone(schema)
}

// HasAttributeDefinition reports whether name is declared.
func (t *Table) HasAttributeDefinition(name string) bool {
	return slices.ContainsFunc(t.AttributeDefinitions, func(d AttributeDefinition) bool {
		return d.AttributeName == name
	})
}

// AddAttributeDefinition declares name unless it already is.
func (t *Table) AddAttributeDefinition(name, attrType string) {
	if t.HasAttributeDefinition(name) {
		return
	}
	t.AttributeDefinitions = append(t.AttributeDefinitions, AttributeDefinition{AttributeName: name, AttributeType: attrType})
}

// RemoveAttributeDefinition drops the declaration of name.
func (t *Table) RemoveAttributeDefinition(name string) {
	t.AttributeDefinitions = slices.DeleteFunc(t.AttributeDefinitions, func(d AttributeDefinition) bool {
		return d.AttributeName == name
	})
}

// IndexAttributes returns the attribute names used by secondary index keys.
func (t *Table) IndexAttributes() map[string]bool {
	inUse := make(map[string]bool)
	for _, gsi := range t.GlobalSecondaryIndexes {
		for _, k := range gsi.KeySchema {
			inUse[k.AttributeName] = true
		}
	}
	for _, lsi := range t.LocalSecondaryIndexes {
		for _, k := range lsi.KeySchema {
			inUse[k.AttributeName] = true
		}
	}
	return inUse
}

// HasIndex reports whether an index named name exists.
func (t *Table) HasIndex(name string) bool {
	for _, gsi := range t.GlobalSecondaryIndexes {
		if gsi.IndexName == name {
			return true
		}
	}
	for _, lsi := range t.LocalSecondaryIndexes {
		if lsi.IndexName == name {
			return true
		}
	}
	return false
}

// AddGlobalSecondaryIndex adds a GSI. Index names are unique per table.
func (t *Table) AddGlobalSecondaryIndex(gsi *GlobalSecondaryIndex) error {
	if t.HasIndex(gsi.IndexName) {
		return fmt.Errorf("index %q already exists on table %s", gsi.IndexName, t.LogicalID)
	}
	t.GlobalSecondaryIndexes = append(t.GlobalSecondaryIndexes, gsi)
	return nil
}

// AddLocalSecondaryIndex adds an LSI. Index names are unique per table.
func (t *Table) AddLocalSecondaryIndex(lsi *LocalSecondaryIndex) error {
	if t.HasIndex(lsi.IndexName) {
		return fmt.Errorf("index %q already exists on table %s", lsi.IndexName, t.LogicalID)
	}
	t.LocalSecondaryIndexes = append(t.LocalSecondaryIndexes, lsi)
	return nil
}

// Resource renders the table as an AWS::DynamoDB::Table resource. Billing
// and capacity follow the stack parameters.
func (t *Table) Resource() *Resource {
	props := map[string]any{
		"TableName":            t.TableName,
		"KeySchema":            t.KeySchema,
		"AttributeDefinitions": t.AttributeDefinitions,
		"BillingMode":          Fn("If", CondPayPerRequestBilling, "PAY_PER_REQUEST", Ref("AWS::NoValue")),
		"ProvisionedThroughput": Fn("If", CondPayPerRequestBilling, Ref("AWS::NoValue"), map[string]any{
			"ReadCapacityUnits":  Ref(ParamReadIOPS),
			"WriteCapacityUnits": Ref(ParamWriteIOPS),
		}),
		"SSESpecification": map[string]any{"SSEEnabled": false},
	}
	if t.StreamViewType != "" {
		props["StreamSpecification"] = map[string]any{"StreamViewType": t.StreamViewType}
	}
	if t.TimeToLiveAttribute != "" {
		props["TimeToLiveSpecification"] = map[string]any{"AttributeName": t.TimeToLiveAttribute, "Enabled": true}
	}
	if len(t.GlobalSecondaryIndexes) > 0 {
		props["GlobalSecondaryIndexes"] = t.GlobalSecondaryIndexes
	}
	if len(t.LocalSecondaryIndexes) > 0 {
		props["LocalSecondaryIndexes"] = t.LocalSecondaryIndexes
	}
	return &Resource{
		Type:           "AWS::DynamoDB::Table",
		Properties:     props,
		DeletionPolicy: "Delete",
	}
}
