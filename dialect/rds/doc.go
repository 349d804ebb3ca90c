// Package rds holds the helpers shared by plugins that serve models from
// a relational engine through the SQL lambda datasource: connection
// parsing, the table model built from GraphQL types, and the request and
// response templates of the lambda invocations.
package rds
