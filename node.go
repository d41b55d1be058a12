// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import "github.com/opcua-core/opcua/ua"

// Node is a convenience wrapper binding a NodeId to the Client used to
// read, write, and browse it; see Client.Node.
type Node struct {
	ID *ua.NodeID
	c  *Client
}

// Value reads the node's Value attribute.
func (n *Node) Value() (*ua.Variant, error) {
	dv, err := n.Attribute(ua.AttributeIDValue)
	if err != nil {
		return nil, err
	}
	return dv.Value, nil
}

// Attribute reads a single attribute of the node.
func (n *Node) Attribute(attr ua.AttributeID) (*ua.DataValue, error) {
	req := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: n.ID, AttributeID: attr},
		},
	}
	res, err := n.c.Read(req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) != 1 {
		return nil, ua.StatusBadDecodingError
	}
	dv := res.Results[0]
	if !dv.Status.IsGood() && !dv.Status.IsUncertain() {
		return dv, dv.Status
	}
	return dv, nil
}

// SetValue writes the node's Value attribute.
func (n *Node) SetValue(v *ua.Variant) error {
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      n.ID,
				AttributeID: ua.AttributeIDValue,
				Value:       ua.DataValue{Value: v, HasValue: true},
			},
		},
	}
	res, err := n.c.Write(req)
	if err != nil {
		return err
	}
	if len(res.Results) != 1 {
		return ua.StatusBadDecodingError
	}
	if res.Results[0] != ua.StatusOK {
		return res.Results[0]
	}
	return nil
}

// BrowseChildren browses the node's forward hierarchical references one
// level deep, the common case client code needs without pulling in the
// full browser package, which is the general depth-limited resolver.
func (n *Node) BrowseChildren(refType *ua.NodeID) ([]*ua.ReferenceDescription, error) {
	req := &ua.BrowseRequest{
		RequestedMaxReferencesPerNode: 0,
		NodesToBrowse: []*ua.BrowseDescription{
			{
				NodeID:          n.ID,
				Direction:       ua.BrowseDirectionForward,
				ReferenceTypeID: refType,
				IncludeSubtypes: true,
				NodeClassMask:   0,
				ResultMask:      0x3f,
			},
		},
	}
	res, err := n.c.Browse(req)
	if err != nil {
		return nil, err
	}
	if len(res.Results) != 1 {
		return nil, ua.StatusBadDecodingError
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return nil, res.Results[0].StatusCode
	}
	return res.Results[0].References, nil
}
