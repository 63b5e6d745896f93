package topology

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/distquery/coordinator/endpoint"
)

// ParseClusterSet parses the <MODULE>.CLUSTERSET argument grammar:
//
//	MYID id [HASHFUNC CRC16|CRC12] [NUMSLOTS n] [HASREPLICATION]
//	RANGES k (SHARD id (SLOTRANGE a b)+ (ADDR [pass@]host:port [UNIXADDR path] [MASTER])+)*k
//
// On any parse error it returns nil and an error; the caller must not
// install a partial topology (CLUSTERSET must succeed atomically or not
// at all).
func ParseClusterSet(args []string) (*ClusterTopology, error) {
	p := &csParser{args: args}

	if err := p.expect("MYID"); err != nil {
		return nil, err
	}
	myID, err := p.next()
	if err != nil {
		return nil, err
	}

	t := &ClusterTopology{
		MyID:     myID,
		HashFunc: HashCRC16,
		NumSlots: 16384,
	}

	for {
		kw, ok := p.peek()
		if !ok {
			return nil, errors.New("topology: CLUSTERSET: unexpected end of arguments before RANGES")
		}
		if kw == "RANGES" {
			break
		}
		switch kw {
		case "HASHFUNC":
			p.next()
			v, err := p.next()
			if err != nil {
				return nil, err
			}
			switch strings.ToUpper(v) {
			case "CRC16":
				t.HashFunc = HashCRC16
			case "CRC12":
				t.HashFunc = HashCRC12
			default:
				return nil, errors.Errorf("topology: CLUSTERSET: unknown HASHFUNC %q", v)
			}
		case "NUMSLOTS":
			p.next()
			v, err := p.next()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.Wrap(err, "topology: CLUSTERSET: NUMSLOTS")
			}
			t.NumSlots = uint32(n)
		case "HASREPLICATION":
			p.next()
		default:
			return nil, errors.Errorf("topology: CLUSTERSET: unexpected token %q", kw)
		}
	}

	if err := p.expect("RANGES"); err != nil {
		return nil, err
	}
	kStr, err := p.next()
	if err != nil {
		return nil, err
	}
	k, err := strconv.Atoi(kStr)
	if err != nil {
		return nil, errors.Wrap(err, "topology: CLUSTERSET: RANGES count")
	}

	shards := make([]ClusterShard, 0, k)
	for i := 0; i < k; i++ {
		shard, err := p.parseShard()
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	t.Shards = shards

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *csParser) parseShard() (ClusterShard, error) {
	if err := p.expect("SHARD"); err != nil {
		return ClusterShard{}, err
	}
	id, err := p.next()
	if err != nil {
		return ClusterShard{}, err
	}

	shard := ClusterShard{ID: id}
	for {
		kw, ok := p.peek()
		if !ok || kw != "SLOTRANGE" {
			break
		}
		p.next()
		aStr, err := p.next()
		if err != nil {
			return ClusterShard{}, err
		}
		bStr, err := p.next()
		if err != nil {
			return ClusterShard{}, err
		}
		a, err := strconv.ParseUint(aStr, 10, 16)
		if err != nil {
			return ClusterShard{}, errors.Wrap(err, "topology: CLUSTERSET: SLOTRANGE start")
		}
		b, err := strconv.ParseUint(bStr, 10, 16)
		if err != nil {
			return ClusterShard{}, errors.Wrap(err, "topology: CLUSTERSET: SLOTRANGE end")
		}
		shard.SlotRanges = append(shard.SlotRanges, SlotRange{Start: uint16(a), End: uint16(b)})
	}

	for {
		kw, ok := p.peek()
		if !ok || kw != "ADDR" {
			break
		}
		p.next()
		addr, err := p.next()
		if err != nil {
			return ClusterShard{}, err
		}
		ep, err := endpoint.Parse(addr)
		if err != nil {
			return ClusterShard{}, errors.Wrap(err, "topology: CLUSTERSET: ADDR")
		}

		node := ClusterNode{ID: id + "#" + strconv.Itoa(len(shard.Nodes)), Endpoint: ep}

		if kw, ok := p.peek(); ok && kw == "UNIXADDR" {
			p.next()
			path, err := p.next()
			if err != nil {
				return ClusterShard{}, err
			}
			node.Endpoint.UnixSocket = path
		}
		if kw, ok := p.peek(); ok && kw == "MASTER" {
			p.next()
			node.Flags |= FlagMaster
		}
		shard.Nodes = append(shard.Nodes, node)
	}

	return shard, nil
}

type csParser struct {
	args []string
	pos  int
}

func (p *csParser) peek() (string, bool) {
	if p.pos >= len(p.args) {
		return "", false
	}
	return p.args[p.pos], true
}

func (p *csParser) next() (string, error) {
	if p.pos >= len(p.args) {
		return "", errors.New("topology: CLUSTERSET: unexpected end of arguments")
	}
	v := p.args[p.pos]
	p.pos++
	return v, nil
}

func (p *csParser) expect(kw string) error {
	v, err := p.next()
	if err != nil {
		return err
	}
	if !strings.EqualFold(v, kw) {
		return errors.Errorf("topology: CLUSTERSET: expected %s, got %q", kw, v)
	}
	return nil
}
