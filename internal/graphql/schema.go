// Package graphql exposes the UGC schema: review queries and mutations,
// federation entities, and the governance that runs before execution.
package graphql

// schemaSDL is the executable schema.
const schemaSDL = `
schema {
	query: Query
	mutation: Mutation
}

scalar Time
scalar _Any

directive @key(fields: String!) on OBJECT | INTERFACE

type Query {
	review(id: ID!): Review
	reviews(filter: ReviewsFilterInput, limit: Int, offset: Int): [Review!]!
	reviewsConnection(first: Int, after: String, filter: ReviewsFilterInput): ReviewConnection!
	offerRating(offerId: ID!): OfferRatingStats
	_service: _Service!
	_entities(representations: [_Any!]!): [_Entity]!
}

type Mutation {
	createReview(input: CreateReviewInput!): Review!
	updateReview(id: ID!, input: UpdateReviewInput!): Review!
	deleteReview(id: ID!): Boolean!
	moderateReview(id: ID!, status: ModerationStatus!): Review!
	bulkApproveReviews(ids: [ID!]!): [Review!]!
	bulkRejectReviews(ids: [ID!]!): [Review!]!
	refreshOfferRating(offerId: ID!): OfferRatingStats!
}

enum ModerationStatus {
	PENDING
	APPROVED
	REJECTED
	FLAGGED
}

type Review @key(fields: "id") {
	id: ID!
	offerId: ID!
	authorId: ID!
	rating: Int!
	text: String!
	createdAt: Time!
	updatedAt: Time!
	isModerated: Boolean!
	moderationStatus: ModerationStatus!
	offer: Offer!
	author: User!
}

type OfferRatingStats {
	offerId: ID!
	averageRating: Float!
	reviewsCount: Int!
	ratingDistribution: [RatingBucket!]!
}

type RatingBucket {
	rating: Int!
	count: Int!
}

type User @key(fields: "id") {
	id: ID!
	name: String!
	email: String
	reviews: [Review!]!
}

type Offer @key(fields: "id") {
	id: ID!
	title: String!
	price: Int
	reviews: [Review!]!
	averageRating: Float!
	reviewsCount: Int!
}

type ReviewConnection {
	edges: [ReviewEdge!]!
	pageInfo: PageInfo!
	totalCount: Int!
}

type ReviewEdge {
	node: Review!
	cursor: String!
}

type PageInfo {
	hasNextPage: Boolean!
	hasPreviousPage: Boolean!
	startCursor: String
	endCursor: String
}

input CreateReviewInput {
	offerId: ID!
	rating: Int!
	text: String!
}

input UpdateReviewInput {
	rating: Int
	text: String
}

input ReviewsFilterInput {
	offerId: ID
	authorId: ID
	minRating: Int
	maxRating: Int
	moderatedOnly: Boolean
	moderationStatus: ModerationStatus
}

union _Entity = Review | User | Offer

type _Service {
	sdl: String!
}
`

// federationSDL is the schema advertised to the supergraph router. Review is
// an entity owned here; User and Offer are entities owned by sibling
// subgraphs and extended with review fields.
const federationSDL = `
type Review @key(fields: "id") {
	id: ID!
	offerId: ID!
	authorId: ID!
	rating: Int!
	text: String!
	createdAt: Time!
	updatedAt: Time!
	isModerated: Boolean!
	moderationStatus: ModerationStatus!
	offer: Offer!
	author: User!
}

extend type User @key(fields: "id") {
	id: ID! @external
	reviews: [Review!]!
}

extend type Offer @key(fields: "id") {
	id: ID! @external
	reviews: [Review!]!
	averageRating: Float!
	reviewsCount: Int!
}
`
