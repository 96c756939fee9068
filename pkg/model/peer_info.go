package model

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Relation describes how a peer sits relative to this connector.
type Relation string

const (
	RelationParent Relation = "parent"
	RelationPeer   Relation = "peer"
	RelationChild  Relation = "child"
)

// Valid reports whether r is one of the known relations.
func (r Relation) Valid() bool {
	return r == RelationParent || r == RelationPeer || r == RelationChild
}

// RuleKind names a rule variant. The set is closed: app.createRule rejects unknown kinds.
type RuleKind string

const (
	RuleErrorHandler        RuleKind = "errorHandler"
	RuleExpire              RuleKind = "expire"
	RuleReduceExpiry        RuleKind = "reduceExpiry"
	RuleRateLimit           RuleKind = "rateLimit"
	RuleMaxPacketAmount     RuleKind = "maxPacketAmount"
	RuleThroughput          RuleKind = "throughput"
	RuleDeduplicate         RuleKind = "deduplicate"
	RuleValidateFulfillment RuleKind = "validateFulfillment"
	RuleStats               RuleKind = "stats"
	RuleAlert               RuleKind = "alert"
	RuleBalance             RuleKind = "balance"
)

// RuleConfig is a rule name plus its parameters. The parameters live next to the
// name in one flat object, e.g. {"name":"maxPacketAmount","maxPacketAmount":"1000"}.
type RuleConfig struct {
	Name    RuleKind
	Options json.RawMessage
}

// Decode unmarshals the rule parameters into v.
func (c RuleConfig) Decode(v interface{}) error {
	if len(c.Options) == 0 {
		return nil
	}
	return json.Unmarshal(c.Options, v)
}

func (c RuleConfig) MarshalJSON() ([]byte, error) {
	if len(c.Options) > 0 {
		return c.Options, nil
	}
	return json.Marshal(map[string]RuleKind{"name": c.Name})
}

func (c *RuleConfig) UnmarshalJSON(b []byte) error {
	var head struct {
		Name RuleKind `json:"name"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	c.Name = head.Name
	c.Options = append(json.RawMessage(nil), b...)
	return nil
}

// UnmarshalYAML lets seed files use the same flat shape as JSON.
func (c *RuleConfig) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]interface{}
	if err := node.Decode(&m); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.UnmarshalJSON(b)
}

// ProtocolConfig configures a protocol handler for the peer.
type ProtocolConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// PeerInfo describes a peer and the policy applied to its packets.
type PeerInfo struct {
	ID         string           `json:"id" yaml:"id"`
	AssetCode  string           `json:"assetCode" yaml:"assetCode"`
	AssetScale int              `json:"assetScale" yaml:"assetScale"`
	Relation   Relation         `json:"relation" yaml:"relation"`
	Rules      []RuleConfig     `json:"rules" yaml:"rules"`
	Protocols  []ProtocolConfig `json:"protocols,omitempty" yaml:"protocols,omitempty"`
}

// PeerRecord is a peer as persisted: its policy plus how to reach it.
type PeerRecord struct {
	Info     PeerInfo     `json:"info" yaml:"info"`
	Endpoint EndpointInfo `json:"endpoint" yaml:"endpoint"`
}
