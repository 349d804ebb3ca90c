// Package dialect identifies the database engines a model can be bound to.
//
// Every @model type is backed by one engine. DynamoDB is the default; a
// type listed in the modelToDatasourceMap configuration may instead be
// bound to a relational engine reached through the SQL lambda datasource.
//
// # Engines
//
//	dialect.DynamoDB = "DDB"
//	dialect.MySQL    = "MySQL"
//	dialect.Postgres = "Postgres"
//
// # Capabilities
//
// Engines differ in what the transform is allowed to synthesize. Secondary
// indexes are created only for engines reporting the Indexes capability;
// relational databases own their index definitions, so the @index
// directive only produces query resolvers for them:
//
//	if dialect.Capabilities(db).Support(dialect.Indexes) {
//	    // add GSI or LSI to the table
//	}
//
// The rds subpackage holds the relational helpers: connection parsing,
// the table model built from a GraphQL type and the lambda request
// templates shared by the relational plugins.
package dialect
